// Package backend declares the capability interfaces the token engine
// consumes from the surrounding deployment: credential verification, role
// lookups, and catalog listings. Concrete implementations are selected at
// startup; the engine never depends on a particular backend technology.
package backend

import (
	"context"

	"github.com/castellanhq/castellan/internal/token/domain"
)

// Subject is the identity a credential check resolves to.
type Subject struct {
	ID       string
	DomainID string
}

// Identity verifies credentials for one authentication method.
type Identity interface {
	// VerifyCredentials resolves a credential to a subject or fails with
	// domain.ErrAuthentication. The data map is method-specific, e.g.
	// {"subject_id": ..., "password": ...} for the password method.
	VerifyCredentials(ctx context.Context, method string, data map[string]string) (Subject, error)
}

// Assignment resolves the roles a subject holds in a scope.
type Assignment interface {
	RolesFor(ctx context.Context, subjectID string, scope domain.Scope) ([]string, error)
}

// Catalog lists the service endpoints visible in a scope, snapshotted into
// tokens at issuance.
type Catalog interface {
	EndpointsFor(ctx context.Context, scope domain.Scope) ([]domain.EndpointRecord, error)
}
