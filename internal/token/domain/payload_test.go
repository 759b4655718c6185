package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScopeValidate(t *testing.T) {
	t.Parallel()

	t.Run("unscoped is valid", func(t *testing.T) {
		require.NoError(t, Scope{}.Validate())
		require.True(t, Scope{}.IsUnscoped())
	})

	t.Run("project scope is valid", func(t *testing.T) {
		s := Scope{ProjectID: "p1"}
		require.NoError(t, s.Validate())
		require.True(t, s.IsProject())
		require.False(t, s.IsDomain())
	})

	t.Run("domain scope is valid", func(t *testing.T) {
		s := Scope{DomainID: "d1"}
		require.NoError(t, s.Validate())
		require.True(t, s.IsDomain())
	})

	t.Run("both set is rejected", func(t *testing.T) {
		err := Scope{ProjectID: "p1", DomainID: "d1"}.Validate()
		require.ErrorIs(t, err, ErrInvalidScope)
	})
}

func TestBuildPayload(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	base := BuildInput{
		SubjectID: "user-1",
		DomainID:  "default",
		Scope:     Scope{ProjectID: "p1"},
		Methods:   []string{"password"},
		Roles:     []string{"member"},
		Lifetime:  time.Hour,
	}

	t.Run("truncates timestamps to whole seconds", func(t *testing.T) {
		p, err := BuildPayload(base, now)
		require.NoError(t, err)
		require.Zero(t, p.IssuedAt.Nanosecond())
		require.Zero(t, p.ExpiresAt.Nanosecond())
		require.Equal(t, p.IssuedAt.Add(time.Hour), p.ExpiresAt)
	})

	t.Run("assigns a fresh audit id", func(t *testing.T) {
		p1, err := BuildPayload(base, now)
		require.NoError(t, err)
		p2, err := BuildPayload(base, now)
		require.NoError(t, err)

		require.Len(t, p1.AuditIDs, 1)
		require.NotEmpty(t, p1.AuditID())
		require.NotEqual(t, p1.AuditID(), p2.AuditID())
	})

	t.Run("sorts and dedupes methods and roles", func(t *testing.T) {
		in := base
		in.Methods = []string{"token", "password", "password"}
		in.Roles = []string{"member", "admin", "member"}

		p, err := BuildPayload(in, now)
		require.NoError(t, err)
		require.Equal(t, []string{"password", "token"}, p.Methods)
		require.Equal(t, []string{"admin", "member"}, p.Roles)
	})

	t.Run("rejects empty methods", func(t *testing.T) {
		in := base
		in.Methods = nil
		_, err := BuildPayload(in, now)
		require.ErrorIs(t, err, ErrEmptyMethods)
	})

	t.Run("rejects scoped token without roles", func(t *testing.T) {
		in := base
		in.Roles = nil
		_, err := BuildPayload(in, now)
		require.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("allows unscoped token without roles", func(t *testing.T) {
		in := base
		in.Scope = Scope{}
		in.Roles = nil
		_, err := BuildPayload(in, now)
		require.NoError(t, err)
	})

	t.Run("rescope extends the audit chain", func(t *testing.T) {
		ancestor, err := BuildPayload(base, now)
		require.NoError(t, err)

		in := base
		in.Scope = Scope{DomainID: "default"}
		in.Ancestor = &ancestor

		child, err := BuildPayload(in, now)
		require.NoError(t, err)
		require.Len(t, child.AuditIDs, 2)
		require.Equal(t, ancestor.AuditID(), child.AuditIDs[1])
		require.True(t, child.InAuditChain(ancestor.AuditID()))
		require.False(t, ancestor.InAuditChain(child.AuditID()))
	})

	t.Run("input mutation does not reach the payload", func(t *testing.T) {
		bind := map[string]string{"x509": "fp"}
		in := base
		in.Bind = bind

		p, err := BuildPayload(in, now)
		require.NoError(t, err)

		bind["x509"] = "changed"
		require.Equal(t, "fp", p.Bind["x509"])
	})
}

func TestPayloadExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := BuildPayload(BuildInput{
		SubjectID: "u",
		Methods:   []string{"password"},
		Lifetime:  time.Hour,
	}, now)
	require.NoError(t, err)

	require.False(t, p.Expired(now))
	require.False(t, p.Expired(p.ExpiresAt.Add(-time.Second)))
	require.True(t, p.Expired(p.ExpiresAt), "expiry instant itself is expired")
	require.True(t, p.Expired(p.ExpiresAt.Add(time.Second)))
}

func TestBindMatches(t *testing.T) {
	t.Parallel()

	t.Run("no bind matches anything", func(t *testing.T) {
		p := Payload{}
		require.True(t, p.BindMatches(nil))
		require.True(t, p.BindMatches(map[string]string{"x509": "fp"}))
	})

	t.Run("bound token requires matching channel data", func(t *testing.T) {
		p := Payload{Bind: map[string]string{"x509": "fp"}}
		require.True(t, p.BindMatches(map[string]string{"x509": "fp"}))
		require.False(t, p.BindMatches(map[string]string{"x509": "other"}))
		require.False(t, p.BindMatches(nil))
	})

	t.Run("every bound key must be presented", func(t *testing.T) {
		p := Payload{Bind: map[string]string{"x509": "fp", "kerberos": "princ"}}
		require.False(t, p.BindMatches(map[string]string{"x509": "fp"}))
		require.True(t, p.BindMatches(map[string]string{
			"x509":     "fp",
			"kerberos": "princ",
			"extra":    "ignored",
		}))
	})
}
