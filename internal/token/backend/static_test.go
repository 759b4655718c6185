package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/pkg/cryptox"
)

func TestMain(m *testing.M) {
	pepperPath := filepath.Join(os.TempDir(), "backend-test-pepper")
	cryptox.SetPepperPath(pepperPath)
	os.Remove(pepperPath)
	defer os.Remove(pepperPath)

	os.Exit(m.Run())
}

func TestStaticIdentity(t *testing.T) {
	t.Parallel()

	hash, err := cryptox.HashPassword("correct horse")
	require.NoError(t, err)

	id := NewStaticIdentity([]StaticUser{
		{ID: "alice", DomainID: "default", PasswordHash: hash},
		{ID: "mallory", DomainID: "default", PasswordHash: hash, Disabled: true},
	})
	ctx := context.Background()

	t.Run("valid credentials resolve the subject", func(t *testing.T) {
		sub, err := id.VerifyCredentials(ctx, MethodPassword, map[string]string{
			"subject_id": "alice",
			"password":   "correct horse",
		})
		require.NoError(t, err)
		require.Equal(t, Subject{ID: "alice", DomainID: "default"}, sub)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := id.VerifyCredentials(ctx, MethodPassword, map[string]string{
			"subject_id": "alice",
			"password":   "battery staple",
		})
		require.ErrorIs(t, err, domain.ErrAuthentication)
	})

	t.Run("unknown subject", func(t *testing.T) {
		_, err := id.VerifyCredentials(ctx, MethodPassword, map[string]string{
			"subject_id": "nobody",
			"password":   "correct horse",
		})
		require.ErrorIs(t, err, domain.ErrAuthentication)
	})

	t.Run("disabled subject", func(t *testing.T) {
		_, err := id.VerifyCredentials(ctx, MethodPassword, map[string]string{
			"subject_id": "mallory",
			"password":   "correct horse",
		})
		require.ErrorIs(t, err, domain.ErrAuthentication)
	})

	t.Run("unsupported method", func(t *testing.T) {
		_, err := id.VerifyCredentials(ctx, "kerberos", nil)
		require.ErrorIs(t, err, domain.ErrAuthentication)
	})
}

func TestStaticAssignment(t *testing.T) {
	t.Parallel()

	a := NewStaticAssignment([]StaticGrant{
		{SubjectID: "alice", Scope: domain.Scope{ProjectID: "p1"}, Roles: []string{"member"}},
		{SubjectID: "alice", Roles: []string{"reader"}},
	})
	ctx := context.Background()

	roles, err := a.RolesFor(ctx, "alice", domain.Scope{ProjectID: "p1"})
	require.NoError(t, err)
	require.Equal(t, []string{"member"}, roles)

	roles, err = a.RolesFor(ctx, "alice", domain.Scope{})
	require.NoError(t, err)
	require.Equal(t, []string{"reader"}, roles)

	roles, err = a.RolesFor(ctx, "alice", domain.Scope{ProjectID: "p2"})
	require.NoError(t, err)
	require.Empty(t, roles)

	roles, err = a.RolesFor(ctx, "bob", domain.Scope{ProjectID: "p1"})
	require.NoError(t, err)
	require.Empty(t, roles)
}
