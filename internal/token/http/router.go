// Package http is the thin wire surface over the token engine. Every
// token-invalid failure collapses to a single 401 regardless of which check
// rejected the token; only backend unavailability is distinguishable, as 503.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/castellanhq/castellan/internal/token/keyring"
	"github.com/castellanhq/castellan/internal/token/service"
	"github.com/castellanhq/castellan/internal/token/store"
	"github.com/castellanhq/castellan/pkg/httpx"
	"github.com/castellanhq/castellan/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store        store.Store
	chain        *keyring.Chain
	Tokens       *service.TokenService
	Revocations  *service.RevocationService
}

func NewRouter(
	st store.Store,
	chain *keyring.Chain,
	tokens *service.TokenService,
	revocations *service.RevocationService,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		chain:        chain,
		Tokens:       tokens,
		Revocations:  revocations,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerTokens()
	r.registerRevocations()
	r.registerKeys()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) handle(pattern string, h http.Handler, mws ...httpx.Middleware) {
	r.Mux.Handle(pattern, httpx.Chain(h, mws...))
}
