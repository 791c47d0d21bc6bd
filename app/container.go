package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"fusionchat/app/config"
	"fusionchat/internal/adapters"
	"fusionchat/internal/keystore"
	"fusionchat/internal/ports"
	"fusionchat/internal/realtime"
	"fusionchat/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
)

// Container wires the whole client session: it is the single owner of every
// piece of session state and its init/teardown.
type Container struct {
	isShuttingDown bool

	GinEngine *gin.Engine
	Config    *config.Config
	Redis     *redis.Client

	Metrics        *Metrics
	Logger         *slog.Logger
	TracerProvider *tracesdk.TracerProvider
	Tracer         trace.Tracer

	Server *http.Server

	Remote      *adapters.RemoteStore
	Hub         *realtime.Hub
	KV          ports.IKeyValueStore
	SecureStore *keystore.SecureStore

	EncryptionService *services.EncryptionService
	DirectoryService  *services.DirectoryService
	ReactionService   *services.ReactionService
	SyncService       *services.SyncService
	PresenceService   *services.PresenceService
	CallService       *services.CallService
}

func NewContainer() (*Container, error) {
	container := &Container{}

	if err := container.initCore(); err != nil {
		return nil, err
	}

	if err := container.initProductionFeatures(); err != nil {
		return nil, err
	}

	return container, nil
}

func (c *Container) initCore() error {
	var cfg, err = config.LoadConfig()
	if err != nil {
		return err
	}
	c.Config = &cfg

	c.Logger = c.initLogger()
	c.Redis = c.initRedis()

	if err = c.initTracing(); err != nil {
		return err
	}

	userID := cfg.Session.UserID

	c.Remote = adapters.NewRemoteStore(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, c.Logger)
	c.Hub = realtime.NewHub(cfg.Realtime.URL, cfg.Remote.APIKey, c.Logger)
	go c.Hub.Run()

	c.KV = adapters.NewRedisKVStore(c.Redis, userID)
	c.SecureStore = keystore.NewSecureStore(c.KV, c.Logger)

	c.EncryptionService = services.NewEncryptionService(c.SecureStore, c.Logger)
	c.DirectoryService = services.NewDirectoryService(userID, c.Remote, c.Remote, c.KV, c.Logger)
	c.ReactionService = services.NewReactionService(userID, c.Remote, c.Remote, c.Logger)
	c.SyncService = services.NewSyncService(userID, c.Remote, c.Remote, c.Hub, c.ReactionService, c.Logger)
	c.PresenceService = services.NewPresenceService(userID, c.Remote, c.Hub, c.Hub, cfg.Presence.HeartbeatInterval, cfg.Presence.TypingTimeout, c.Logger)
	c.CallService = services.NewCallService(userID, c.Remote, c.KV, c.Hub, c.Logger)

	c.SyncService.SetPreviewHook(c.DirectoryService.UpdatePreview)

	c.Server = c.initServer()
	c.GinEngine = c.initGinEngine()
	c.Server.Handler = c.GinEngine

	return nil
}

func (c *Container) initProductionFeatures() error {
	c.Metrics = NewMetrics()

	c.Hub.OnEvent = c.Metrics.ObserveEvent
	c.Hub.OnReconnect = c.Metrics.Reconnects.Inc
	c.Hub.OnSubs = func(count int) {
		c.Metrics.ActiveSubscriptions.Set(float64(count))
	}
	c.SyncService.SetMetrics(func(failed bool) {
		if failed {
			c.Metrics.SendFailures.Inc()
		} else {
			c.Metrics.MessagesSent.Inc()
		}
	}, c.Metrics.DecryptFailures.Inc)

	c.initHealthRoutes(c.GinEngine)

	return nil
}

func (c *Container) initTracing() error {
	if !c.Config.Tracing.Enabled {
		c.Logger.Info("tracing disabled")
		return nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(c.Config.Tracing.Endpoint)))
	if err != nil {
		return err
	}

	c.TracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(c.Config.Tracing.ServiceName),
			attribute.String("environment", c.Config.Environment.Current),
		)),
	)

	otel.SetTracerProvider(c.TracerProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	c.Tracer = c.TracerProvider.Tracer("fusionchat-client")

	c.Logger.Info("tracing initialized", "endpoint", c.Config.Tracing.Endpoint)
	return nil
}

func (c *Container) initHealthRoutes(eng *gin.Engine) {
	eng.GET("/health", func(ctx *gin.Context) {
		health := map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		if err := c.Redis.Ping().Err(); err != nil {
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
			ctx.JSON(503, health)
			return
		}

		health["redis"] = "healthy"
		ctx.JSON(200, health)
	})

	eng.GET("/ready", func(ctx *gin.Context) {
		if c.isShuttingDown {
			ctx.JSON(503, gin.H{"status": "shutting down"})
			return
		}
		ctx.JSON(200, gin.H{"status": "ready"})
	})

	eng.GET("/live", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "live"})
	})

	eng.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (c *Container) initGinEngine() *gin.Engine {
	var eng = gin.Default()
	return eng
}

func (c *Container) initLogger() *slog.Logger {
	var logger *slog.Logger
	if c.Config.Environment.Current == "development" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(logger)
	return logger
}

func (c *Container) initRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
}

func (c *Container) initServer() *http.Server {
	return &http.Server{
		Addr: ":" + c.Config.Ops.Port,
	}
}

// Start brings the session online: realtime connection, call state restore,
// presence heartbeat, directory load.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Hub.Connect(); err != nil {
		return err
	}

	if err := c.CallService.Attach(); err != nil {
		return err
	}
	if err := c.CallService.Restore(ctx); err != nil {
		c.Logger.Warn("call restore failed", "error", err)
	}

	c.PresenceService.Start(ctx)

	if err := c.DirectoryService.Load(ctx); err != nil {
		return err
	}

	if peerID, err := c.DirectoryService.Selected(ctx); err == nil && peerID != "" {
		if err := c.SyncService.Attach(ctx, peerID); err != nil {
			c.Logger.Warn("failed to reattach selected conversation", "peerID", peerID, "error", err)
		} else {
			c.PresenceService.Watch(peerID)
		}
	}

	return nil
}

func (c *Container) Close() error {
	c.isShuttingDown = true

	c.PresenceService.Stop()
	c.SyncService.Detach()
	c.CallService.Detach()

	if err := c.Hub.Close(); err != nil {
		c.Logger.Error("failed to close realtime hub", "error", err)
	}

	if c.TracerProvider != nil {
		if err := c.TracerProvider.Shutdown(context.Background()); err != nil {
			c.Logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}

	if c.Redis != nil {
		return c.Redis.Close()
	}

	return nil
}
