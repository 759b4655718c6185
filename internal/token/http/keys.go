package http

import (
	"encoding/base64"
	"net/http"

	"github.com/castellanhq/castellan/pkg/httpx"
	"github.com/castellanhq/castellan/pkg/slogx"
)

func (r *Router) registerKeys() {
	r.handle("GET /v1/keys", http.HandlerFunc(r.listKeys),
		httpx.RateLimitByIP(httpx.PublicLimit))
	r.handle("POST /v1/keys/rotate", http.HandlerFunc(r.rotateKeys),
		r.requireAdmin)
	r.handle("POST /v1/keys/reload", http.HandlerFunc(r.reloadKeys),
		r.requireAdmin)
}

// jwk is the published verification half of a signing key, RFC 8037 OKP form.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
	Use string `json:"use"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// listKeys publishes the Ed25519 public keys of every resolvable key, primary
// first. Only the verification halves leave the process.
func (r *Router) listKeys(w http.ResponseWriter, req *http.Request) {
	set := jwkSet{Keys: []jwk{}}
	for _, kid := range r.chain.KeyIDs() {
		key, ok := r.chain.Lookup(kid)
		if !ok {
			continue
		}
		set.Keys = append(set.Keys, jwk{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: kid,
			X:   base64.RawURLEncoding.EncodeToString(key.Public()),
			Use: "sig",
		})
	}

	httpx.WriteJSON(w, http.StatusOK, set)
}

func (r *Router) rotateKeys(w http.ResponseWriter, req *http.Request) {
	kid, err := r.chain.Rotate(req.Context())
	if err != nil {
		slogx.FromContext(req.Context()).Error("key rotation failed", "error", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, errorBody("service_unavailable"))
		return
	}

	slogx.FromContext(req.Context()).Info("key rotated", "key_id", kid)
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"key_id": kid})
}

// reloadKeys rebuilds the key snapshot from the store, picking up rotations
// performed by other instances.
func (r *Router) reloadKeys(w http.ResponseWriter, req *http.Request) {
	if err := r.chain.Reload(req.Context()); err != nil {
		slogx.FromContext(req.Context()).Error("key reload failed", "error", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, errorBody("service_unavailable"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
