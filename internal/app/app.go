// -----------------------------------------------------------------------
// Last Modified: Wednesday, 14th October 2026 9:44:04 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/browser"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/handlers"
	"github.com/ternarybob/flowqueue/internal/interfaces"
	"github.com/ternarybob/flowqueue/internal/queue"
	"github.com/ternarybob/flowqueue/internal/services/automation"
	"github.com/ternarybob/flowqueue/internal/services/chat"
	"github.com/ternarybob/flowqueue/internal/services/cookies"
	"github.com/ternarybob/flowqueue/internal/services/downloader"
	"github.com/ternarybob/flowqueue/internal/services/events"
	"github.com/ternarybob/flowqueue/internal/services/metrics"
	"github.com/ternarybob/flowqueue/internal/services/scheduler"
	"github.com/ternarybob/flowqueue/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	InstanceID     string
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService *scheduler.Service

	// Browser automation
	Launcher  browser.Launcher
	Session   *automation.Session
	Generator *automation.Generator

	// Generation queue
	Queue *queue.Manager

	// Collaborators
	CookieService   *cookies.Service
	DownloadService *downloader.Service
	ChatService     *chat.Service

	// Metrics
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	QueueHandler    *handlers.QueueHandler
	SessionHandler  *handlers.SessionHandler
	CookieHandler   *handlers.CookieHandler
	DownloadHandler *handlers.DownloadHandler
	ChatHandler     *handlers.ChatHandler
	WSHandler       *handlers.WebSocketHandler

	unsubscribers []func()
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config:     cfg,
		Logger:     logger,
		InstanceID: common.NewInstanceID(),
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.EventService = events.NewService(app.Logger)

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.startServices(); err != nil {
		app.Close()
		return nil, err
	}

	status := app.Queue.GetStatus()
	logger.Info().
		Str("instance_id", app.InstanceID).
		Bool("persistence", app.StorageManager != nil).
		Str("browser_mode", cfg.Browser.Mode).
		Int("restored_items", status.Total).
		Int("cookies", app.CookieService.Status().Count).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger). A disabled store leaves StorageManager nil.
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	if storageManager != nil {
		a.Logger.Debug().
			Str("storage", "badger").
			Str("path", a.Config.Storage.Badger.Path).
			Msg("Storage layer initialized")
	} else {
		a.Logger.Debug().Msg("Persistence disabled, queue and cookies are in-memory")
	}
	return nil
}

// initServices initializes all business services in dependency order:
// cookies -> browser launcher -> session -> generator -> queue -> scheduler,
// then the independent downloader and chat relay, then metrics.
func (a *App) initServices() error {
	var itemStorage interfaces.ItemStorage
	var cookieStorage interfaces.CookieStorage
	if a.StorageManager != nil {
		itemStorage = a.StorageManager.ItemStorage()
		cookieStorage = a.StorageManager.CookieStorage()
	}

	a.CookieService = cookies.NewService(cookieStorage, a.Config.Cookies.AuthDomains, a.Logger)

	launcher, err := browser.NewLauncher(&a.Config.Browser, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create browser launcher: %w", err)
	}
	a.Launcher = launcher

	automationConfig := automation.NewConfig(&a.Config.Automation)
	opener := automation.NewChromeOpener(launcher, &a.Config.Browser, automationConfig.Timings.PageLoad, a.Logger)
	a.Session = automation.NewSession(opener, automationConfig, a.Logger)
	a.Generator = automation.NewGenerator(a.Session, a.EventService, a.Logger)

	a.Queue = queue.NewManager(a.Generator, a.EventService, itemStorage, queue.NewOptions(&a.Config.Queue), a.Logger)
	a.SchedulerService = scheduler.NewService(a.Queue, a.Session.IsReady, a.Logger)

	runner := downloader.NewExecRunner(&a.Config.Downloader, a.Logger)
	a.DownloadService = downloader.NewService(runner, a.EventService, a.Config.Downloader.OutputDir, a.Logger)

	a.ChatService = chat.NewService(&a.Config.Chat, a.Logger)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)
	a.unsubscribers = append(a.unsubscribers, a.Metrics.Subscribe(a.EventService))

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.InstanceID, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.Queue, a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.Session, a.CookieService, a.Queue, a.EventService, a.Config.Browser.Headless, a.Logger)
	a.CookieHandler = handlers.NewCookieHandler(a.CookieService, a.Logger)
	a.DownloadHandler = handlers.NewDownloadHandler(a.DownloadService, a.Logger)
	a.ChatHandler = handlers.NewChatHandler(a.ChatService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Queue, a.InstanceID, a.Logger, &a.Config.WebSocket)
}

// startServices restores persisted state and starts timers
func (a *App) startServices() error {
	ctx := context.Background()

	if err := a.CookieService.Load(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to restore stored cookies")
	}
	if a.Config.Cookies.File != "" {
		if _, err := a.CookieService.ImportFile(ctx, a.Config.Cookies.File); err != nil {
			a.Logger.Warn().Err(err).Str("file", a.Config.Cookies.File).Msg("Failed to import configured cookie file")
		}
	}

	if err := a.Queue.Restore(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to restore queue items")
	}

	if err := a.SchedulerService.Start(a.Config.Queue.AutoStartSchedule); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close stops every service in reverse dependency order
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WSHandler != nil {
		if err := a.WSHandler.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close WebSocket handler")
		}
	}

	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue")
		}
	}

	if a.DownloadService != nil {
		if err := a.DownloadService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close download service")
		}
	}

	if a.Session != nil {
		a.Session.Teardown()
	}
	if a.Launcher != nil {
		if err := a.Launcher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser launcher")
		}
	}

	for _, unsubscribe := range a.unsubscribers {
		unsubscribe()
	}
	a.unsubscribers = nil

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.StorageManager = nil
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
