package app

import (
	"context"
	"sync"

	"bedsync/internal/bedstate"
	"bedsync/internal/common/errors"
	"bedsync/internal/common/logging"
	"bedsync/internal/config"
	"bedsync/internal/middleware"
	"bedsync/internal/oauth2"
	"bedsync/internal/observation"
	"bedsync/internal/redis"
	"bedsync/internal/storage"
	"bedsync/internal/withings"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	RedisClient *redis.Client
	Settings    storage.SettingsStore
	TokenStore  oauth2.TokenStorage
	Tokens      *oauth2.Manager
	Withings    *withings.Client
	Detector    *bedstate.Detector
	Poller      *observation.Poller
	RateLimiter *middleware.IPRateLimiter
	Logger      logging.Logger

	cleanupOnce sync.Once
}

// New creates a new application instance with all dependencies. Nothing is
// started; see Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := requireConfig(cfg); err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	// Initialize components in order of dependency
	if err := app.initializeRedis(); err != nil {
		return nil, err
	}

	if err := app.initializeTokenStorage(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeWithings(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.initializeDetector()

	if err := app.initializePoller(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.RateLimiter = middleware.NewIPRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})

	return app, nil
}

func (app *App) initializeWithings() error {
	cfg := app.Config

	manager, err := oauth2.NewManager(oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		RedirectURL:  cfg.CallbackURL(),
	}, app.TokenStore,
		oauth2.WithRefreshMargin(cfg.RefreshMargin),
		oauth2.WithRefreshInterval(cfg.RefreshInterval),
	)
	if err != nil {
		return err
	}
	app.Tokens = manager

	client, err := withings.NewClient(withings.Config{
		ClientID:    cfg.ClientID,
		AuthURL:     cfg.AuthURL,
		NotifyURL:   cfg.NotifyURL,
		SleepURL:    cfg.SleepURL,
		Scope:       cfg.Scope,
		CallbackURL: cfg.CallbackURL(),
	}, manager)
	if err != nil {
		return err
	}
	app.Withings = client
	return nil
}

func (app *App) initializeDetector() {
	var dispatcher bedstate.Dispatcher = bedstate.NewHTTPDispatcher(
		app.Config.BedInURL, app.Config.BedOutURL, app.Config.DispatchTimeout, nil)

	if app.Config.EventsChannel != "" && app.RedisClient != nil {
		dispatcher = bedstate.MultiDispatcher{
			dispatcher,
			bedstate.NewRedisDispatcher(app.RedisClient, app.Config.EventsChannel),
		}
		app.Logger.Info("Bed events: publishing to Redis",
			logging.String("channel", app.Config.EventsChannel))
	}

	app.Detector = bedstate.NewDetector(dispatcher, nil)
}

func (app *App) initializePoller() error {
	if app.Config.PollSchedule == "" {
		app.Logger.Info("Sleep polling: disabled, relying on push notifications")
		return nil
	}

	poller, err := observation.NewPoller(app.Config.PollSchedule, app.Withings, app.Detector, nil)
	if err != nil {
		return err
	}
	app.Poller = poller
	return nil
}

// Start launches the background workers: proactive token refresh and, when
// configured, sleep polling.
func (app *App) Start(ctx context.Context) error {
	app.Tokens.Start(ctx)

	if app.Poller != nil {
		if err := app.Poller.Start(ctx); err != nil {
			return err
		}
	}

	if !app.Tokens.Authorized(ctx) {
		app.Logger.Warn("No Withings account linked yet",
			logging.String("visit", app.Config.BaseURL+"/authorize"))
	}
	return nil
}

// Cleanup releases all resources. It is safe to call more than once.
func (app *App) Cleanup() {
	app.cleanupOnce.Do(app.cleanup)
}

func (app *App) cleanup() {
	if app.Poller != nil {
		app.Poller.Stop()
	}
	if app.Tokens != nil {
		if err := app.Tokens.Close(); err != nil {
			app.Logger.Warn("Error stopping token manager", logging.Err(err))
		}
	}
	if app.Settings != nil {
		if err := app.Settings.Close(); err != nil {
			app.Logger.Warn("Error closing settings store", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis", logging.Err(err))
		}
	}
}

func requireConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.ConfigError("configuration is required")
	}
	return nil
}
