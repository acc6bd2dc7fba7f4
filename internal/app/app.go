package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"keygate/internal/config"
	"keygate/internal/gate"
	"keygate/internal/infrastructure"
	"keygate/internal/ledger"
	"keygate/internal/license"
	customMiddleware "keygate/internal/middleware"
	"keygate/internal/notify"
	"keygate/internal/security"
	handlers "keygate/internal/transport/http"
)

// healthProbeToken is the token ID used by the ledger reachability probe.
const healthProbeToken = 1

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         license.Store
	Manager       *license.Manager
	Gate          *gate.Gate
	Guard         *license.BindingGuard
	Chain         ledger.Client
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	issuer *customMiddleware.TokenIssuer
	vault  *security.Vault
}

// NewApplication creates a new application instance with dependency injection
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig wires the application from an already validated
// configuration. Tests use this to inject a memory-backed setup.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.String("registry_driver", cfg.Registry.Driver),
		slog.String("ledger_mode", cfg.Ledger.Mode))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices wires the registry store, ledger client, key vault,
// notifier and the domain services on top of them.
func (a *Application) initializeServices() error {
	store, err := a.buildStore()
	if err != nil {
		return err
	}
	a.Store = store

	chain, err := a.buildLedgerClient()
	if err != nil {
		return err
	}
	a.Chain = chain

	oracle := ledger.NewOracle(chain, a.Config.Ledger.Timeout, a.Logger)

	vault, err := security.NewVault([]byte(a.Config.Security.MasterSecret))
	if err != nil {
		return fmt.Errorf("failed to initialize key vault: %w", err)
	}
	a.vault = vault

	var notifier notify.SellerNotifier
	if a.Config.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(a.Config.Notify.WebhookURL, a.Config.Notify.Timeout, a.Logger)
	} else {
		notifier = notify.NewLogNotifier(a.Logger)
	}

	var gateMetrics *gate.Metrics
	if a.OTelProviders.Meter != nil {
		gateMetrics, err = gate.NewMetrics(a.OTelProviders.Meter)
		if err != nil {
			return fmt.Errorf("failed to create gate metrics: %w", err)
		}
	}

	a.Gate = gate.New(store, oracle, vault, notifier, a.Logger, gateMetrics)
	a.Manager = license.NewManager(store, chain, a.Logger)
	a.Guard = license.NewBindingGuard(store, a.Logger)
	a.issuer = customMiddleware.NewTokenIssuer(a.Config.Security.AdminJWTSecret, a.Config.Security.AdminTokenTTL)

	return nil
}

// buildStore selects the registry backend from configuration.
func (a *Application) buildStore() (license.Store, error) {
	switch a.Config.Registry.Driver {
	case "memory":
		a.Logger.Warn("using in-memory registry store, state is lost on restart")
		return license.NewMemoryStore(), nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(a.Config.Registry.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to registry database: %w", err)
		}
		if err := license.Migrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate registry schema: %w", err)
		}
		return license.NewGormStore(db), nil
	default:
		return nil, fmt.Errorf("unknown registry driver: %q", a.Config.Registry.Driver)
	}
}

// buildLedgerClient selects the ledger backend from configuration.
func (a *Application) buildLedgerClient() (ledger.Client, error) {
	switch a.Config.Ledger.Mode {
	case "embedded":
		contract := ledger.NewContract(a.Config.Ledger.PrivilegedAddress)
		return ledger.NewEmbeddedClient(contract, a.Config.Ledger.PrivilegedAddress), nil
	case "http":
		return ledger.NewHTTPClient(a.Config.Ledger.Endpoint, a.Config.Ledger.SignerToken, a.Config.Ledger.Timeout, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown ledger mode: %q", a.Config.Ledger.Mode)
	}
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	if a.OTelProviders.Meter != nil {
		if httpMetrics, err := infrastructure.CreateHTTPMetrics(a.OTelProviders.Meter); err == nil {
			r.Use(customMiddleware.Metrics(httpMetrics))
		} else {
			a.Logger.Error("failed to create HTTP metrics", slog.String("error", err.Error()))
		}
	}

	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		Logger:         a.Logger,
	}))

	if a.Config.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	releaseHandler := handlers.NewReleaseHandler(a.Gate, a.Guard, a.Logger)
	licenseHandler := handlers.NewLicenseHandler(a.Store, a.Manager, a.Logger)
	adminHandler := handlers.NewAdminHandler(a.Manager, a.Store, a.vault, a.issuer,
		a.Config.Security.AdminJWTSecret, a.Config.Security.AdminTokenTTL, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.Chain, healthProbeToken, a.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Route("/licenses", func(r chi.Router) {
			r.Post("/{licenseID}/release", releaseHandler.Release)
			r.Post("/{licenseID}/bind", releaseHandler.Bind)
			r.Get("/{licenseID}", licenseHandler.Get)
			r.Delete("/{licenseID}", licenseHandler.SoftDelete)
		})
		r.Get("/holders/{address}/licenses", licenseHandler.ListByHolder)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/token", adminHandler.Token)
			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.RequireAdmin(a.issuer, a.Logger))
				r.Mount("/", adminHandler.Routes())
			})
		})
	})

	r.Mount("/healthz", healthHandler.Routes())

	// Prometheus metrics endpoint outside the API middleware group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run starts the HTTP server and blocks until shutdown. SIGINT and SIGTERM
// trigger a graceful drain bounded by the configured shutdown timeout.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("HTTP server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()

		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})

	err := g.Wait()
	a.Logger.Info("application stopped")
	return err
}
