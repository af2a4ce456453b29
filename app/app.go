package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron"

	"github.com/rosterhub/rosterhub/config"
	"github.com/rosterhub/rosterhub/models"
	"github.com/rosterhub/rosterhub/services"
	"github.com/rosterhub/rosterhub/utils"
)

// Version is set at build time.
var Version = "dev"

// App wires configuration, storage, roster adapters and the re-sync
// scheduler into one runnable service.
type App struct {
	cfg        *config.Config
	reconciler *services.Reconciler
	scheduler  *cron.Cron
}

func NewApp(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// setup initializes the application components
func (app *App) setup() error {
	// Initialize Sentry if enabled
	if app.cfg.Analytics.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              app.cfg.Analytics.Sentry.DSN,
			EnableTracing:    true,
			TracesSampleRate: 0.1,
			Release:          "rosterhub@" + Version,
			DebugWriter:      utils.NewSentrySlogWriter(slog.Default().WithGroup("sentry")),
		}); err != nil {
			slog.Warn("Sentry initialization failed", "error", err)
		}
	}

	// Initialize database
	if app.cfg.Database.Type == "sqlite" {
		models.ConnectSqlite(app.cfg.Database.Sqlite.Path)
	} else {
		models.ConnectDatabase()
	}

	app.reconciler = services.NewReconciler(models.DB)
	return app.setupSources()
}

// setupSources registers one roster adapter per join source kind.
func (app *App) setupSources() error {
	gitlabSource, err := utils.NewGitlabRosterSource(
		utils.GitlabClientProvider{BaseURL: app.cfg.Gitlab.BaseURL}, app.cfg.Gitlab.Token)
	if err != nil {
		return fmt.Errorf("failed to set up gitlab client: %w", err)
	}
	app.reconciler.Sources[models.JoinSourceGitlab] = gitlabSource

	if app.cfg.Canvas.BaseURL != "" {
		canvasSource := &utils.CanvasRosterSource{
			Client: utils.NewCanvasClient(app.cfg.Canvas.BaseURL, app.cfg.Canvas.Token),
		}
		app.reconciler.Sources[models.JoinSourceCanvasSections] = canvasSource
		app.reconciler.Sources[models.JoinSourceCanvasGroups] = canvasSource
	}
	return nil
}

// Run sets up the application, starts the re-sync scheduler and blocks until
// a shutdown signal arrives.
func (app *App) Run() error {
	if err := app.setup(); err != nil {
		return fmt.Errorf("failed to set up application: %w", err)
	}

	slog.Info("Starting roster service",
		"version", Version,
		"schedule", app.cfg.Sync.Schedule,
		"maxAge", app.cfg.Sync.MaxAge)

	scheduler, err := services.StartScheduler(app.reconciler, app.cfg.Sync.Schedule, app.cfg.Sync.MaxAge)
	if err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	app.scheduler = scheduler

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	sig := <-signalCh
	slog.Info("Received signal", "signal", sig)

	app.scheduler.Stop()
	if app.cfg.Analytics.Sentry.Enabled {
		sentry.Flush(5 * time.Second)
	}
	return nil
}
