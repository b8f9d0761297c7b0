package app

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"golang.org/x/sync/errgroup"

	"github.com/vadim/neo-publisher/internal/config"
	httpcontroller "github.com/vadim/neo-publisher/internal/controller/http"
	"github.com/vadim/neo-publisher/internal/database"
	creddao "github.com/vadim/neo-publisher/internal/domain/credential/dao"
	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	postdao "github.com/vadim/neo-publisher/internal/domain/post/dao"
	"github.com/vadim/neo-publisher/internal/domain/post/policy"
	"github.com/vadim/neo-publisher/internal/domain/post/scheduler"
	"github.com/vadim/neo-publisher/internal/domain/post/service"
	"github.com/vadim/neo-publisher/internal/httpx/response"
	"github.com/vadim/neo-publisher/internal/httpx/upstream"
	"github.com/vadim/neo-publisher/internal/httpx/upstream/tiktok"
	"github.com/vadim/neo-publisher/internal/httpx/upstream/twitter"
	"github.com/vadim/neo-publisher/internal/retry"
	"github.com/vadim/neo-publisher/internal/storage"
)

//go:embed openapi.yaml
var openAPISpec []byte

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure, one of pg or mongo depending on the configured driver
	pg    *pgxpool.Pool
	mongo *mongo.Client

	posts       postdao.PostRepository
	credentials creddao.CredentialRepository

	// Domain policies (interfaces for HTTP handlers)
	postPolicy *policy.Policy

	// Scheduler for dispatching due posts
	scheduler *scheduler.Scheduler
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	// Initialize infrastructure
	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	// Initialize domain layers
	if err := app.initDomains(ctx); err != nil {
		app.closeStores()
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	// Register routes
	if err := app.registerRoutes(); err != nil {
		app.closeStores()
		return nil, fmt.Errorf("registering routes: %w", err)
	}

	// Initialize HTTP server
	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Initialize scheduler
	if cfg.Scheduler.Enabled {
		app.scheduler = scheduler.New(app.postPolicy, cfg.Scheduler.Interval, logger)
	}

	return app, nil
}

// initInfrastructure connects the configured database and builds the stores
func (a *App) initInfrastructure(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, a.cfg.Database.PostgresDSN, a.poolConfig())
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pg = pool
		a.posts = postdao.NewPostPostgres(pool)
		a.credentials = creddao.NewCredentialPostgres(pool)

	case config.DriverMongo:
		client, err := database.NewMongoClient(ctx, a.cfg.Database.MongoURI, a.poolConfig())
		if err != nil {
			return fmt.Errorf("connecting to mongo: %w", err)
		}
		a.mongo = client
		db := client.Database(a.cfg.Database.MongoDatabase)
		a.posts = postdao.NewPostMongo(db)
		a.credentials = creddao.NewCredentialMongo(db)

	default:
		return fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}

	a.logger.Info("database connected", "driver", a.cfg.Database.Driver)
	return nil
}

func (a *App) poolConfig() database.PoolConfig {
	return database.PoolConfig{
		MaxConns:        int32(a.cfg.Database.MaxOpenConns),
		MinConns:        int32(a.cfg.Database.MaxIdleConns),
		MaxConnLifetime: a.cfg.Database.ConnLifetime,
	}
}

// downloadClient is the HTTP client for source video downloads
func (a *App) downloadClient() *http.Client {
	return &http.Client{Timeout: a.cfg.HTTP.DownloadTimeout}
}

// initDomains initializes domain layers (DAO, Service, Policy)
func (a *App) initDomains(_ context.Context) error {
	httpClient := &http.Client{Timeout: a.cfg.HTTP.Timeout}
	stepRetry := retry.Policy{
		MaxAttempts: a.cfg.HTTP.RetryAttempts,
		BaseDelay:   a.cfg.HTTP.RetryBaseDelay,
		MaxDelay:    a.cfg.HTTP.RetryMaxDelay,
	}

	// Source videos, from our bucket when possible
	objects, err := storage.NewS3Storage(storage.S3Config{
		Endpoint:        a.cfg.S3.Endpoint,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		Bucket:          a.cfg.S3.Bucket,
		Region:          a.cfg.S3.Region,
		PublicURL:       a.cfg.S3.PublicURL,
	})
	if err != nil {
		return fmt.Errorf("creating s3 storage: %w", err)
	}
	videos := storage.NewVideoSource(objects, a.downloadClient())

	// TikTok
	tiktokClient := tiktok.New(
		tiktok.WithBaseURL(a.cfg.TikTok.BaseURL),
		tiktok.WithAppCredentials(a.cfg.TikTok.ClientKey, a.cfg.TikTok.ClientSecret),
		tiktok.WithPrivacyLevel(a.cfg.TikTok.PrivacyLevel),
		tiktok.WithTransport(upstream.New(string(credential.PlatformTikTok), upstream.WithHTTPClient(httpClient))),
	)
	tiktokPublisher := tiktok.NewPublisher(tiktokClient, tiktok.PublisherConfig{
		Init: stepRetry,
		Poll: retry.Policy{
			MaxAttempts: a.cfg.TikTok.PollMaxAttempts,
			BaseDelay:   a.cfg.TikTok.PollBaseDelay,
			MaxDelay:    a.cfg.TikTok.PollMaxDelay,
		},
	}, tiktok.WithLogger(a.logger))

	// Twitter
	twitterTransport := upstream.New(string(credential.PlatformTwitter), upstream.WithHTTPClient(httpClient))
	twitterOpts := []twitter.ClientOption{
		twitter.WithBaseURL(a.cfg.Twitter.BaseURL),
		twitter.WithTransport(twitterTransport),
	}
	if a.cfg.Twitter.UploadURL != "" {
		twitterOpts = append(twitterOpts, twitter.WithUploadURL(a.cfg.Twitter.UploadURL))
	}
	twitterDefaults := twitter.DefaultPublisherConfig()
	twitterPublisher := twitter.NewPublisher(twitter.New(twitterOpts...), videos, twitter.PublisherConfig{
		Step:      stepRetry,
		Status:    twitterDefaults.Status,
		ChunkSize: a.cfg.Twitter.ChunkSize,
	}, twitter.WithLogger(a.logger))
	twitterRefresher := twitter.NewRefresher(twitter.RefresherConfig{
		ClientID:     a.cfg.Twitter.ClientID,
		ClientSecret: a.cfg.Twitter.ClientSecret,
		TokenURL:     a.cfg.Twitter.TokenURL,
		Transport:    twitterTransport,
	})

	// Initialize service
	postService := service.New(a.posts)

	// Initialize policy
	a.postPolicy = policy.New(postService, a.credentials,
		policy.Config{
			PlatformDelay:     a.cfg.Dispatch.PlatformDelay,
			AccountDelay:      a.cfg.Dispatch.AccountDelay,
			RefreshRetryDelay: a.cfg.Dispatch.RefreshRetryDelay,
		},
		policy.WithPlatform(credential.PlatformTikTok, policy.Platform{
			Publisher: tiktokPublisher,
			Refresher: tiktok.NewRefresher(tiktokClient),
		}),
		policy.WithPlatform(credential.PlatformTwitter, policy.Platform{
			Publisher:    twitterPublisher,
			Refresher:    twitterRefresher,
			AccountDelay: a.cfg.Dispatch.TwitterAccountDelay,
		}),
		policy.WithPlanGate(policy.NewMonthlyLimitGate(postService, a.cfg.Plan.MonthlyPostLimit)),
		policy.WithLogger(a.logger),
	)

	return nil
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() error {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	// Swagger UI documentation
	swaggerHandler, err := httpcontroller.NewSwaggerHandler("Neo-Publisher API", openAPISpec)
	if err != nil {
		return err
	}
	swaggerHandler.RegisterRoutes(a.router)

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		postHandler := httpcontroller.NewPostHandler(a.postPolicy)
		postHandler.RegisterRoutes(r)
	})

	return nil
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// readyHandler reports ready once the database answers
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.pingStore(ctx); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		response.ServiceUnavailable(w, "database unavailable")
		return
	}

	response.OK(w, map[string]string{"status": "ready"})
}

func (a *App) pingStore(ctx context.Context) error {
	switch {
	case a.pg != nil:
		return a.pg.Ping(ctx)
	case a.mongo != nil:
		return a.mongo.Ping(ctx, readpref.Primary())
	default:
		return errors.New("no database configured")
	}
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Start scheduler if enabled
	if a.scheduler != nil {
		a.scheduler.Start(gctx)
	}

	g.Go(func() error {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown requested")
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	// Stop scheduler; the current tick finishes its dispatches first
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	// Let immediate dispatches record their final status
	a.postPolicy.Wait()

	a.closeStores()

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeStores() {
	if a.pg != nil {
		a.pg.Close()
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(context.Background()); err != nil {
			a.logger.Error("disconnecting mongo", "error", err)
		}
	}
}
