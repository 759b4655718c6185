package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/castellanhq/castellan/internal/token/domain"
	"github.com/castellanhq/castellan/internal/token/keyring"
)

// PrefixJWS tags the self-describing signed format: a standard EdDSA JWT
// carrying the payload as claims, verifiable without any store lookup.
const PrefixJWS = "jws"

// JWS encodes payloads as signed JWTs under the keychain's primary key. The
// key id rides in the JOSE header so verification resolves retired keys
// through their grace window.
type JWS struct {
	Chain *keyring.Chain
}

func NewJWS(chain *keyring.Chain) *JWS {
	return &JWS{Chain: chain}
}

type jwsClaims struct {
	jwt.RegisteredClaims

	HomeDomain   string                  `json:"hdm,omitempty"`
	ScopeProject string                  `json:"prj,omitempty"`
	ScopeDomain  string                  `json:"dom,omitempty"`
	Methods      []string                `json:"mth"`
	Roles        []string                `json:"rol,omitempty"`
	Catalog      []domain.EndpointRecord `json:"cat,omitempty"`
	AuditIDs     []string                `json:"adt"`
	Bind         map[string]string       `json:"bnd,omitempty"`
	TrustID      string                  `json:"tru,omitempty"`
}

func (j *JWS) Prefix() string { return PrefixJWS }

func (j *JWS) Encode(ctx context.Context, p domain.Payload) (string, error) {
	key := j.Chain.Primary()
	if key == nil {
		return "", fmt.Errorf("jws: %w: no active signing key", domain.ErrKeyNotFound)
	}

	claims := jwsClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.SubjectID,
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
		HomeDomain:   p.DomainID,
		ScopeProject: p.Scope.ProjectID,
		ScopeDomain:  p.Scope.DomainID,
		Methods:      p.Methods,
		Roles:        p.Roles,
		Catalog:      p.Catalog,
		AuditIDs:     p.AuditIDs,
		Bind:         p.Bind,
		TrustID:      p.TrustID,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = key.ID

	signed, err := tok.SignedString(key.Signer())
	if err != nil {
		return "", fmt.Errorf("jws: sign: %w", err)
	}
	return PrefixJWS + sep + signed, nil
}

func (j *JWS) Decode(ctx context.Context, token string) (domain.Payload, error) {
	raw, err := body(token, PrefixJWS)
	if err != nil {
		return domain.Payload{}, err
	}

	var claims jwsClaims
	_, err = jwt.ParseWithClaims(raw, &claims, j.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		// Expiry is the validation pipeline's check, not the codec's.
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return domain.Payload{}, mapJWTError(err)
	}
	if claims.Subject == "" || len(claims.AuditIDs) == 0 ||
		claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return domain.Payload{}, fmt.Errorf("%w: missing required claims", domain.ErrMalformedToken)
	}

	return domain.Payload{
		SubjectID: claims.Subject,
		DomainID:  claims.HomeDomain,
		Scope: domain.Scope{
			ProjectID: claims.ScopeProject,
			DomainID:  claims.ScopeDomain,
		},
		Methods:   claims.Methods,
		Roles:     claims.Roles,
		Catalog:   claims.Catalog,
		IssuedAt:  claims.IssuedAt.Time.UTC().Truncate(time.Second),
		ExpiresAt: claims.ExpiresAt.Time.UTC().Truncate(time.Second),
		AuditIDs:  claims.AuditIDs,
		Bind:      claims.Bind,
		TrustID:   claims.TrustID,
	}, nil
}

func (j *JWS) keyfunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: token without kid", domain.ErrKeyNotFound)
	}
	key, ok := j.Chain.Lookup(kid)
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", domain.ErrKeyNotFound, kid)
	}
	return key.Public(), nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
		return err
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
}
