// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/novalabs/meterlink/adapters/clock"
	apihttp "github.com/novalabs/meterlink/adapters/http"
	"github.com/novalabs/meterlink/adapters/metrics"
	"github.com/novalabs/meterlink/adapters/metronome"
	"github.com/novalabs/meterlink/adapters/sqlite"
	"github.com/novalabs/meterlink/adapters/statefile"
	"github.com/novalabs/meterlink/app"
	"github.com/novalabs/meterlink/config"
	"github.com/novalabs/meterlink/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Holder     *config.Holder
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Store      ports.StateStore
	Vendor     ports.BillingVendor

	router atomic.Pointer[http.Handler]
	db     *sqlite.DB
}

// ServeHTTP dispatches to the current router, which is rebuilt on
// config reload so tier and pricing changes take effect without a
// restart.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*a.router.Load()).ServeHTTP(w, r)
}

// New creates and initializes the application from a config file path.
func New(configPath string) (*App, error) {
	logger := SetupLogger(&config.LoggingConfig{Level: "info", Format: "json"})

	holder, err := config.NewHolder(configPath, logger)
	if err != nil {
		return nil, err
	}
	cfg := holder.Get()
	logger = SetupLogger(&cfg.Logging)

	a := &App{Logger: logger, Holder: holder}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initStateStore(cfg); err != nil {
		return nil, fmt.Errorf("init state store: %w", err)
	}

	var vendorInst metronome.Instrumentation
	if a.Metrics != nil {
		vendorInst = instrumentation{c: a.Metrics}
	}
	client := metronome.NewClient(metronome.Config{
		BaseURL:      cfg.Vendor.BaseURL,
		BearerToken:  cfg.Vendor.BearerToken,
		Timeout:      cfg.Vendor.Timeout,
		MaxAttempts:  cfg.Vendor.MaxAttempts,
		RetryBackoff: cfg.Vendor.RetryBackoff,
		Inst:         vendorInst,
	}, logger)
	a.Vendor = metronome.NewVendor(client)

	if err := a.initHTTPServer(cfg); err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return a, nil
}

// SetupLogger builds the process logger from logging configuration.
func SetupLogger(cfg *config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func (a *App) initStateStore(cfg *config.Config) error {
	switch cfg.State.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.State.Path)
		if err != nil {
			return err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return err
		}
		a.db = db
		a.Store = sqlite.NewStateStore(db)
		a.Logger.Info().Str("path", cfg.State.Path).Msg("sqlite state store ready")
	default:
		a.Store = statefile.New(cfg.State.Path)
		a.Logger.Info().Str("path", cfg.State.Path).Msg("file state store ready")
	}
	return nil
}

// instrumentation adapts the metrics collector to the app services.
type instrumentation struct {
	c *metrics.Collector
}

func (i instrumentation) EventIngested(tierKey string) {
	i.c.EventsIngested.WithLabelValues(tierKey).Inc()
}

func (i instrumentation) EventRejected(reason string) {
	i.c.EventsRejected.WithLabelValues(reason).Inc()
}

func (i instrumentation) TxIDAllocated(tierKey string) {
	i.c.TxIDsAllocated.WithLabelValues(tierKey).Inc()
}

func (i instrumentation) StateSaveError() {
	i.c.StateSaveErrors.Inc()
}

func (i instrumentation) VendorRequest(operation string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		i.c.VendorErrors.WithLabelValues(operation).Inc()
	}
	i.c.VendorRequests.WithLabelValues(operation, outcome).Inc()
	i.c.VendorDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (a *App) initHTTPServer(cfg *config.Config) error {
	root, err := a.buildRouter(cfg)
	if err != nil {
		return err
	}
	a.router.Store(&root)

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

// buildRouter assembles the service graph and router for one config
// snapshot.
func (a *App) buildRouter(cfg *config.Config) (http.Handler, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	var inst app.Instrumentation = app.NopInstrumentation{}
	if a.Metrics != nil {
		inst = instrumentation{c: a.Metrics}
	}

	clk := clock.Real{}
	allocator := app.NewAllocator(a.Store, clk, cfg.Billing.Namespace, inst, a.Logger)

	provisioner := app.NewProvisioner(
		app.ProvisionerDeps{Vendor: a.Vendor, Store: a.Store, Clock: clk, Catalog: catalog},
		app.MetricConfig{
			Name:            cfg.Billing.MetricName,
			EventType:       cfg.Billing.EventType,
			AggregationType: cfg.Billing.AggregationType,
			AggregationKey:  cfg.Billing.AggregationKey,
			GroupKey:        cfg.Billing.GroupKey,
		},
		app.PricingConfig{
			ProductName:         cfg.Pricing.ProductName,
			RateCardName:        cfg.Pricing.RateCardName,
			RateCardDescription: cfg.Pricing.RateCardDescription,
			EffectiveAt:         cfg.Pricing.EffectiveAt,
			Reuse:               cfg.Pricing.ReuseEnabled(),
		},
		a.Logger,
	)

	ingestor := app.NewIngestor(
		app.IngestorDeps{
			Vendor:    a.Vendor,
			Balances:  a.Vendor,
			Store:     a.Store,
			Clock:     clk,
			Allocator: allocator,
			Catalog:   catalog,
			Inst:      inst,
		},
		cfg.Billing.EventType,
		cfg.Billing.GroupKey,
		cfg.Billing.AggregationKey,
		app.BalanceGate{Enabled: cfg.BalanceGate.Enabled},
		a.Logger,
	)

	usageSvc := app.NewUsageService(a.Vendor, a.Store, catalog, cfg.Billing.GroupKey, clk, a.Logger)
	account := app.NewAccountService(a.Vendor, a.Vendor, a.Store)

	handler := apihttp.NewHandler(apihttp.HandlerDeps{
		Provisioner:         provisioner,
		Ingestor:            ingestor,
		Usage:               usageSvc,
		Account:             account,
		Store:               a.Store,
		Collector:           a.Metrics,
		Logger:              a.Logger,
		DefaultCustomerName: cfg.Billing.CustomerName,
		DefaultIngestAlias:  cfg.Billing.IngestAlias,
	})

	root := chi.NewRouter()
	root.Mount("/", handler.Router())
	if a.Metrics != nil {
		root.Method(http.MethodGet, cfg.Metrics.Path, promhttp.Handler())
	}
	return root, nil
}

// Run starts the HTTP server, config watchers, and blocks until
// SIGINT/SIGTERM or a server error, then shuts down gracefully.
func (a *App) Run() error {
	if err := a.Holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watching unavailable")
	}
	a.Holder.WatchSignals()
	a.Holder.OnChange(func(cfg *config.Config) {
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
			zerolog.SetGlobalLevel(level)
		}
		root, err := a.buildRouter(cfg)
		if err != nil {
			a.Logger.Error().Err(err).Msg("config reload: rebuilding services failed, keeping old wiring")
			if a.Metrics != nil {
				a.Metrics.ConfigReloadErrors.Inc()
			}
			return
		}
		a.router.Store(&root)
		if a.Metrics != nil {
			a.Metrics.ConfigReloads.Inc()
			a.Metrics.ConfigLastReload.SetToCurrentTime()
		}
	})

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.Holder.Stop()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("closing sqlite failed")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}
