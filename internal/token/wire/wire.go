// Package wire is the compact binary encoding of token payloads shared by
// the self-describing format providers and the opaque token store. Fields are
// keyed by small integers so the encoded form stays short enough to ride
// inside a token string.
package wire

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/castellanhq/castellan/internal/token/domain"
)

// Version is bumped whenever the encoded shape changes incompatibly.
const Version = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: encoder init: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxArrayElements: 4096,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: decoder init: %v", err))
	}
}

type endpointV1 struct {
	ServiceType string `cbor:"1,keyasint"`
	ServiceName string `cbor:"2,keyasint,omitempty"`
	Interface   string `cbor:"3,keyasint"`
	Region      string `cbor:"4,keyasint,omitempty"`
	URL         string `cbor:"5,keyasint"`
}

type payloadV1 struct {
	Version      int               `cbor:"1,keyasint"`
	SubjectID    string            `cbor:"2,keyasint"`
	DomainID     string            `cbor:"3,keyasint,omitempty"`
	ScopeProject string            `cbor:"4,keyasint,omitempty"`
	ScopeDomain  string            `cbor:"5,keyasint,omitempty"`
	Methods      []string          `cbor:"6,keyasint"`
	Roles        []string          `cbor:"7,keyasint,omitempty"`
	Catalog      []endpointV1      `cbor:"8,keyasint,omitempty"`
	IssuedAt     int64             `cbor:"9,keyasint"`
	ExpiresAt    int64             `cbor:"10,keyasint"`
	AuditIDs     []string          `cbor:"11,keyasint"`
	Bind         map[string]string `cbor:"12,keyasint,omitempty"`
	TrustID      string            `cbor:"13,keyasint,omitempty"`
}

// Encode serializes a payload to its compact binary form.
func Encode(p domain.Payload) ([]byte, error) {
	v := payloadV1{
		Version:      Version,
		SubjectID:    p.SubjectID,
		DomainID:     p.DomainID,
		ScopeProject: p.Scope.ProjectID,
		ScopeDomain:  p.Scope.DomainID,
		Methods:      p.Methods,
		Roles:        p.Roles,
		IssuedAt:     p.IssuedAt.Unix(),
		ExpiresAt:    p.ExpiresAt.Unix(),
		AuditIDs:     p.AuditIDs,
		Bind:         p.Bind,
		TrustID:      p.TrustID,
	}
	for _, ep := range p.Catalog {
		v.Catalog = append(v.Catalog, endpointV1(ep))
	}
	return encMode.Marshal(v)
}

// Decode parses the binary form back into a payload. Callers must only hand
// it bytes whose integrity has already been verified.
func Decode(b []byte) (domain.Payload, error) {
	var v payloadV1
	if err := decMode.Unmarshal(b, &v); err != nil {
		return domain.Payload{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	if v.Version != Version {
		return domain.Payload{}, fmt.Errorf("%w: unsupported payload version %d", domain.ErrMalformedToken, v.Version)
	}
	if v.SubjectID == "" || len(v.AuditIDs) == 0 {
		return domain.Payload{}, fmt.Errorf("%w: missing required fields", domain.ErrMalformedToken)
	}

	p := domain.Payload{
		SubjectID: v.SubjectID,
		DomainID:  v.DomainID,
		Scope: domain.Scope{
			ProjectID: v.ScopeProject,
			DomainID:  v.ScopeDomain,
		},
		Methods:   v.Methods,
		Roles:     v.Roles,
		IssuedAt:  time.Unix(v.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(v.ExpiresAt, 0).UTC(),
		AuditIDs:  v.AuditIDs,
		Bind:      v.Bind,
		TrustID:   v.TrustID,
	}
	for _, ep := range v.Catalog {
		p.Catalog = append(p.Catalog, domain.EndpointRecord(ep))
	}
	return p, nil
}
