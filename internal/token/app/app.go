package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castellanhq/castellan/internal/token/backend"
	"github.com/castellanhq/castellan/internal/token/domain"
	httpapi "github.com/castellanhq/castellan/internal/token/http"
	"github.com/castellanhq/castellan/internal/token/keyring"
	"github.com/castellanhq/castellan/internal/token/ledger"
	"github.com/castellanhq/castellan/internal/token/provider"
	"github.com/castellanhq/castellan/internal/token/service"
	"github.com/castellanhq/castellan/internal/token/store"
	"github.com/castellanhq/castellan/internal/token/store/drivers/memory"
	"github.com/castellanhq/castellan/internal/token/store/drivers/sqlite"
	"github.com/castellanhq/castellan/pkg/cryptox"
	"github.com/castellanhq/castellan/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the token engine together: store, key chain, revocation
// ledger, format providers, services and the HTTP surface.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db     store.Store
	chain  *keyring.Chain
	ledger *ledger.Ledger

	tokenService        *service.TokenService
	revocationService   *service.RevocationService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "castellan",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	// Store first; the persistent key chain and the ledger both need it
	if err := app.initStore(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	chain, err := InitKeyChain(ctx, app.cfg, app.db, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key chain: %w", err)
	}
	app.chain = chain

	if err := app.initServices(ctx); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.ledger.Start()
	app.housekeepingService.Start()

	app.logger.Info("castellan starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"provider", app.cfg.DefaultProvider,
		"store", app.cfg.StoreDriver,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down castellan...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()
	app.ledger.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("castellan stopped")
	return nil
}

// initStore initializes the configured store driver and applies migrations.
func (app *Application) initStore() error {
	switch app.cfg.StoreDriver {
	case "memory":
		app.db = memory.NewStore(app.cfg.TokenLifetime)
		app.logger.Info("in-memory store initialized",
			"max_token_lifetime", app.cfg.TokenLifetime)
		return nil

	case "sqlite":
		host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(host)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		app.db = db

		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}

		app.logger.Info("database migrations applied successfully")
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", app.cfg.StoreDriver)
	}
}

// initServices builds the ledger, the format providers and the services on
// top of the store and key chain.
func (app *Application) initServices(ctx context.Context) error {
	app.ledger = ledger.New(ledger.Options{
		Events:           app.db.RevocationEvents(),
		MaxTokenLifetime: app.cfg.TokenLifetime,
		RefreshInterval:  app.cfg.LedgerRefreshInterval,
		Logger:           app.logger,
	})

	// Load events recorded before this instance started.
	if err := app.ledger.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load revocation events: %w", err)
	}

	registry, err := provider.NewRegistry(
		provider.NewOpaque(app.db.Tokens()),
		provider.NewJWS(app.chain),
		provider.NewJWZ(app.chain),
		provider.NewEncrypted(app.chain),
	)
	if err != nil {
		return err
	}

	defaultProvider, ok := registry.Get(app.cfg.DefaultProvider)
	if !ok {
		return fmt.Errorf("unknown token provider %q", app.cfg.DefaultProvider)
	}

	identity, assignment, catalog, err := app.initBackends()
	if err != nil {
		return err
	}

	app.tokenService = &service.TokenService{
		Registry:   registry,
		Default:    defaultProvider,
		Ledger:     app.ledger,
		Identity:   identity,
		Assignment: assignment,
		Catalog:    catalog,
		Lifetime:   app.cfg.TokenLifetime,
	}

	app.revocationService = &service.RevocationService{
		Ledger: app.ledger,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.ledger,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

// initBackends builds the static identity, assignment and catalog backends
// from the bootstrap configuration.
func (app *Application) initBackends() (backend.Identity, backend.Assignment, backend.Catalog, error) {
	var users []backend.StaticUser
	var grants []backend.StaticGrant

	if app.cfg.BootstrapSubject != "" {
		password := app.cfg.BootstrapPassword
		if password == "" {
			generated, err := cryptox.GeneratePassword()
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to generate bootstrap password: %w", err)
			}
			password = generated
			app.logger.Warn("generated one-time bootstrap password; set CASTELLAN_BOOTSTRAP_PASSWORD to pin it",
				"subject_id", app.cfg.BootstrapSubject,
				"password", generated,
			)
		}

		hash, err := cryptox.HashPassword(password)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to hash bootstrap password: %w", err)
		}
		users = append(users, backend.StaticUser{
			ID:           app.cfg.BootstrapSubject,
			DomainID:     app.cfg.BootstrapDomain,
			PasswordHash: hash,
		})
		grants = append(grants,
			backend.StaticGrant{
				SubjectID: app.cfg.BootstrapSubject,
				Roles:     []string{"admin"},
			},
			backend.StaticGrant{
				SubjectID: app.cfg.BootstrapSubject,
				Scope:     domain.Scope{DomainID: app.cfg.BootstrapDomain},
				Roles:     []string{"admin"},
			},
		)
		app.logger.Info("bootstrap subject configured",
			"subject_id", app.cfg.BootstrapSubject,
			"domain_id", app.cfg.BootstrapDomain,
		)
	} else {
		app.logger.Warn("bootstrap subject explicitly unset, authentication is disabled")
	}

	return backend.NewStaticIdentity(users),
		backend.NewStaticAssignment(grants),
		backend.NewStaticCatalog(nil),
		nil
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.db,
		app.chain,
		app.tokenService,
		app.revocationService,
		BuildVersion,
		app.logger,
	)
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
