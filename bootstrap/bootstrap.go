// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file when one exists and from BUNDLEHOST_*
// environment variables otherwise.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/artpar/bundlehost/adapters/clock"
	"github.com/artpar/bundlehost/adapters/hasher"
	"github.com/artpar/bundlehost/adapters/http/admin"
	"github.com/artpar/bundlehost/adapters/idgen"
	"github.com/artpar/bundlehost/adapters/memory"
	"github.com/artpar/bundlehost/adapters/metrics"
	"github.com/artpar/bundlehost/adapters/sqlite"
	"github.com/artpar/bundlehost/app"
	"github.com/artpar/bundlehost/config"
	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/core/events"
	"github.com/artpar/bundlehost/core/runtime"
	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Version is reported by the admin API and the CLI.
var Version = "dev"

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB // nil with the memory driver
	Runtime    *runtime.Runtime
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	// Stores
	DataSource ports.DataSource
	Users      ports.UserWriter
	Sessions   ports.SessionStore

	holder       *config.Holder
	promRegistry *prometheus.Registry
	security     atomic.Pointer[app.SecurityConfig]
}

// Options configures application initialization.
type Options struct {
	// ConfigPath is loaded when it exists; otherwise configuration comes
	// from the environment.
	ConfigPath string

	// Config is used as-is when set and ConfigPath is ignored.
	Config *config.Config

	// Watch reloads ConfigPath on file change and SIGHUP.
	Watch bool

	// LogOutput defaults to stdout.
	LogOutput io.Writer
}

// New creates and initializes the application: stores, module runtime with
// the configured modules deployed, and the HTTP server.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadWithFallback(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := SetupLogger(cfg.Logging, out)
	logger.Info().Str("version", Version).Msg("initializing bundlehost")

	a := &App{Logger: logger, Config: cfg}

	if opts.Config == nil && opts.Watch && opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			holder, err := config.NewHolder(opts.ConfigPath, logger)
			if err != nil {
				return nil, fmt.Errorf("config holder: %w", err)
			}
			a.holder = holder
			a.Config = holder.Get()
		}
	}
	a.storeSecurityConfig(a.Config)

	if err := a.initStores(context.Background()); err != nil {
		a.closeDB()
		return nil, fmt.Errorf("init stores: %w", err)
	}

	a.initMetrics()

	if err := a.initRuntime(context.Background()); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("init runtime: %w", err)
	}

	a.initHTTPServer()

	if a.holder != nil {
		a.holder.OnChange(a.applyConfig)
		a.holder.OnError(a.Metrics.ConfigReloaded)
	}

	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	cfg := a.Config
	h := hasher.NewBcrypt(cfg.Security.BcryptCost)

	switch cfg.Database.Driver {
	case "memory":
		ds := memory.NewDataSource(h)
		a.DataSource, a.Users = ds, ds
		a.Sessions = memory.NewSessionStore()
		a.Logger.Warn().Msg("using in-memory stores, users and sessions are lost on exit")

	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		a.DB = db

		applied, err := db.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		for _, v := range applied {
			a.Logger.Info().Str("version", v).Msg("applied migration")
		}

		ds := sqlite.NewDataSource(db, h).WithLogger(a.Logger)
		a.DataSource, a.Users = ds, ds
		a.Sessions = sqlite.NewSessionStore(db)
		a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database ready")
	}

	return a.seedAdmin(ctx)
}

// seedAdmin creates the bootstrap administrator unless it already exists.
func (a *App) seedAdmin(ctx context.Context) error {
	sec := a.Config.Security
	user := security.User{
		UID:     sec.AdminLogin,
		Source:  sec.DefaultSource,
		Name:    "Administrator",
		Enabled: true,
	}

	created, err := a.Users.EnsureUser(ctx, user, sec.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		a.Logger.Info().
			Str("login", user.UID).
			Str("source", user.Source).
			Msg("created bootstrap administrator")
	}
	return nil
}

func (a *App) initMetrics() {
	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewWithRegistry(a.promRegistry)
}

func (a *App) initRuntime(ctx context.Context) error {
	policy, err := capability.ParsePolicy(a.Config.Registry.LookupPolicy)
	if err != nil {
		return err
	}

	bus := events.NewBus(a.Logger)
	a.Metrics.Subscribe(bus)

	var ids ports.IDGenerator = idgen.UUID{}
	if a.Config.Security.SessionIDs == "token" {
		ids = idgen.Token{Bytes: 32}
	}

	catalog := BuiltinCatalog(ModuleConfig{
		Security: app.SecurityDeps{
			DataSource: a.DataSource,
			Sessions:   a.Sessions,
			Clock:      clock.Real{},
			IDGen:      ids,
			Metrics:    a.Metrics,
			Logger:     a.Logger,
		},
		SecurityConfig: func() app.SecurityConfig { return *a.security.Load() },
	})

	a.Runtime = runtime.New(runtime.Config{
		Policy:  policy,
		Catalog: catalog,
		Events:  bus,
		Logger:  a.Logger,
	})

	if err := a.Runtime.Deploy(ctx, a.Config.Modules); err != nil {
		return fmt.Errorf("deploy modules: %w", err)
	}

	for _, m := range a.Runtime.Modules() {
		a.Logger.Info().
			Uint64("module_id", uint64(m.ID)).
			Str("module", m.SymbolicName).
			Str("state", m.State.String()).
			Msg("module deployed")
	}
	return nil
}

func (a *App) initHTTPServer() {
	adminHandler := admin.NewHandler(admin.Deps{
		Runtime:  a.Runtime,
		Sessions: a.Sessions,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
		Version:  Version,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/admin", adminHandler.Router())

	if a.Config.Metrics.Enabled {
		r.Handle(a.Config.Metrics.Path, promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{}))
		a.Logger.Info().Str("path", a.Config.Metrics.Path).Msg("prometheus metrics enabled")
	}

	a.HTTPServer = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      r,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

// SecurityController returns the controller published by the kernel module.
func (a *App) SecurityController() (*app.SecurityController, bool) {
	return capability.LookupAs[*app.SecurityController](a.Runtime.Registry(), capability.SecurityController)
}

// Reload re-reads the watched config file and applies reloadable fields.
func (a *App) Reload() error {
	if a.holder == nil {
		return errors.New("no config file is being watched")
	}
	return a.holder.Reload()
}

// applyConfig applies the reloadable fields of cfg.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	a.storeSecurityConfig(cfg)
	if ctrl, ok := a.SecurityController(); ok {
		ctrl.UpdatePolicy(cfg.Security.Policy())
	}

	if policy, err := capability.ParsePolicy(cfg.Registry.LookupPolicy); err == nil {
		a.Runtime.Registry().SetPolicy(policy)
	}

	a.Metrics.ConfigReloaded(nil)
}

func (a *App) storeSecurityConfig(cfg *config.Config) {
	a.security.Store(&app.SecurityConfig{
		DefaultSource:     cfg.Security.DefaultSource,
		Policy:            cfg.Security.Policy(),
		DataSourceTimeout: cfg.Security.DataSourceTimeout,
	})
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a server error.
func (a *App) Run() error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown stops the HTTP server, every module in reverse install order and
// closes the database.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	var firstErr error
	if a.Runtime != nil {
		if err := a.Runtime.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("module shutdown error")
			firstErr = err
		}
	}

	a.closeDB()

	a.Logger.Info().Msg("shutdown complete")
	return firstErr
}

func (a *App) closeDB() {
	if a.DB == nil {
		return
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("database close error")
	}
	a.DB = nil
}

// SetupLogger builds the process logger from the logging config.
func SetupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
