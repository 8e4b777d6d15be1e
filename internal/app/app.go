// -----------------------------------------------------------------------
// Application wiring - storage, session, backend, jobs and HTTP handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/handlers"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/services/backend"
	"github.com/ternarybob/flashdeck/internal/services/documents"
	"github.com/ternarybob/flashdeck/internal/services/events"
	"github.com/ternarybob/flashdeck/internal/services/history"
	"github.com/ternarybob/flashdeck/internal/services/jobs"
	"github.com/ternarybob/flashdeck/internal/services/session"
	"github.com/ternarybob/flashdeck/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event bus shared by the session store, orchestrator and handlers
	EventService      interfaces.EventService
	unsubscribeLogger func()

	// Session
	SessionStore *session.Store
	Refresher    *session.Refresher

	// Backend access
	BackendClient *backend.Client
	Inspector     *documents.Inspector

	// Jobs
	Orchestrator   *jobs.Orchestrator
	HistoryService *history.Service

	// HTTP handlers
	JobHandler      *handlers.JobHandler
	SessionHandler  *handlers.SessionHandler
	HistoryHandler  *handlers.HistoryHandler
	DocumentHandler *handlers.DocumentHandler
	StatusHandler   *handlers.StatusHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies. Background work
// starts with Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("backend", cfg.Backend.BaseURL).
		Bool("signed_in", app.SessionStore.Info().Valid).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger or Redis)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.ctx, a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", a.Config.Storage.Type).
		Msg("Storage layer initialized")
	return nil
}

// initServices initializes all business services in dependency order:
// events, session store, backend client, refresher, orchestrator, history.
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	unsubscribe, err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger)
	if err != nil {
		return err
	}
	a.unsubscribeLogger = unsubscribe

	a.SessionStore = session.NewStore(a.StorageManager.CredentialStorage(), a.EventService, a.Logger)
	if err := a.SessionStore.Restore(a.ctx); err != nil {
		// a stored credential that cannot be read means signing in again
		a.Logger.Warn().Err(err).Msg("Failed to restore session")
	}

	a.BackendClient = backend.NewClientFromConfig(a.SessionStore, a.Config.Backend, a.Logger)
	a.Refresher = session.NewRefresher(a.SessionStore, a.BackendClient, a.Config.Session, a.Logger)
	a.Inspector = documents.NewInspector(a.Config.Documents, a.Logger)

	a.Orchestrator = jobs.NewOrchestrator(
		a.StorageManager.JobRegistry(),
		a.BackendClient,
		a.SessionStore,
		a.EventService,
		jobs.ConfigFrom(a.Config.Jobs),
		a.Logger,
	)

	a.HistoryService = history.NewService(a.StorageManager.HistoryStorage(), a.EventService, a.Config.History, a.Logger)
	if err := a.HistoryService.Start(); err != nil {
		return err
	}

	return nil
}

func (a *App) initHandlers() {
	a.JobHandler = handlers.NewJobHandler(a.Orchestrator, a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.SessionStore, a.Orchestrator, a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.HistoryService, a.SessionStore, a.Config.History.MaxEntries, a.Logger)
	a.DocumentHandler = handlers.NewDocumentHandler(a.Inspector, a.BackendClient, a.Orchestrator, a.Config.Documents.MaxFileSize, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Orchestrator, a.SessionStore, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Orchestrator, a.EventService, &a.Config.WebSocket, a.Logger)
}

// Start launches the orchestrator and the token refresh loop, then runs the
// recovery sweep in the background when a session is present
func (a *App) Start() error {
	if err := a.Orchestrator.Start(); err != nil {
		return fmt.Errorf("failed to start job orchestrator: %w", err)
	}
	a.Refresher.Start(a.ctx)

	if a.Config.Jobs.RecoverOnStart && a.SessionStore.Info().Valid {
		common.SafeGo(a.Logger, "startup-recovery", func() {
			ctx, cancel := context.WithTimeout(a.ctx, time.Minute)
			defer cancel()
			if _, err := a.Orchestrator.Recover(ctx); err != nil {
				a.Logger.Warn().Err(err).Msg("Startup recovery failed")
			}
		})
	}
	return nil
}

// Close closes all application resources. Live jobs are left in the
// Registry for the next start to recover.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Refresher != nil {
		a.Refresher.Stop()
	}

	if a.Orchestrator != nil {
		a.Orchestrator.Stop()
		a.Logger.Info().Msg("Job orchestrator stopped")
	}

	if a.HistoryService != nil {
		a.HistoryService.Stop()
	}

	if a.unsubscribeLogger != nil {
		a.unsubscribeLogger()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
