package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/kaeldominion/CrowdStack-sub002/internal/handler"
	"github.com/kaeldominion/CrowdStack-sub002/internal/repository"
	"github.com/kaeldominion/CrowdStack-sub002/internal/service"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/config"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/database"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/kafka"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/lock"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/logger"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/middleware"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/redis"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/telemetry"
)

// Container holds all dependencies for the closeout service
type Container struct {
	// Infrastructure
	Config    *config.Config
	DB        *database.PostgresDB
	Redis     *redis.Client
	Publisher kafka.Publisher
	Logger    *logger.Logger
	Audit     *middleware.AuditLogger

	// Repositories
	CloseoutRepo repository.CloseoutRepository

	// Services
	Locker          lock.Locker
	CloseoutService service.CloseoutService

	// Handlers
	HealthHandler   *handler.HealthHandler
	CloseoutHandler *handler.CloseoutHandler
}

// ContainerConfig contains configuration for building the container.
// DB is required for the postgres store and Redis for the redis lock backend;
// a nil Publisher disables event publishing.
type ContainerConfig struct {
	Config    *config.Config
	DB        *database.PostgresDB
	Redis     *redis.Client
	Publisher kafka.Publisher
	Metrics   *telemetry.CloseoutMetrics
	Logger    *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *ContainerConfig) (*Container, error) {
	if cfg.Config == nil {
		return nil, errors.New("container requires a config")
	}

	c := &Container{
		Config:    cfg.Config,
		DB:        cfg.DB,
		Redis:     cfg.Redis,
		Publisher: cfg.Publisher,
		Logger:    cfg.Logger,
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.Publisher == nil {
		c.Publisher = kafka.NoopPublisher{}
	}
	closeoutCfg := cfg.Config.Closeout

	// Initialize repositories
	switch closeoutCfg.Store {
	case "memory":
		c.CloseoutRepo = repository.NewMemoryCloseoutRepository()
	default:
		if c.DB == nil {
			return nil, fmt.Errorf("closeout store %q requires a database", closeoutCfg.Store)
		}
		c.CloseoutRepo = repository.NewPostgresCloseoutRepository(c.DB.Pool())
	}

	// Initialize lock
	switch closeoutCfg.LockBackend {
	case "redis":
		if c.Redis == nil {
			return nil, errors.New("redis lock backend requires a redis client")
		}
		locker, err := lock.NewRedisLocker(ctx, c.Redis, "lock:")
		if err != nil {
			return nil, fmt.Errorf("create redis locker: %w", err)
		}
		c.Locker = locker
	default:
		c.Locker = lock.NewLocalLocker()
	}

	// Initialize services
	c.CloseoutService = service.NewCloseoutService(&service.CloseoutServiceConfig{
		Repo:           c.CloseoutRepo,
		Locker:         c.Locker,
		Publisher:      c.Publisher,
		Metrics:        cfg.Metrics,
		Logger:         c.Logger,
		FinalizedTopic: closeoutCfg.FinalizedTopic,
		LockTTL:        closeoutCfg.LockTTL,
		LockWait:       closeoutCfg.LockWait,
	})

	// Initialize handlers
	checks := make(map[string]handler.HealthCheck)
	if c.DB != nil {
		checks["postgres"] = c.DB.HealthCheck
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.HealthCheck
	}
	if p, ok := c.Publisher.(*kafka.Producer); ok {
		checks["kafka"] = p.Ping
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.CloseoutHandler = handler.NewCloseoutHandler(c.CloseoutService, c.Logger)

	if closeoutCfg.AuditEnabled && c.DB != nil {
		auditCfg := middleware.DefaultAuditConfig(c.DB.Pool())
		auditCfg.Logger = c.Logger
		c.Audit = middleware.NewAuditLogger(auditCfg)
	}

	return c, nil
}

// Router builds the HTTP routes. Closeout routes require a JWT carrying the
// admin or organizer role.
func (c *Container) Router() *gin.Engine {
	if c.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(c.Logger))
	if len(c.Config.Server.CORSOrigins) > 0 {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(c.Config.Server.CORSOrigins)))
	}

	c.HealthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(middleware.JWTMiddleware(&middleware.JWTConfig{
		Secret: c.Config.JWT.Secret,
		Issuer: c.Config.JWT.Issuer,
	}))
	api.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleOrganizer))
	if c.Audit != nil {
		api.Use(middleware.AuditMiddleware(c.Audit))
	}
	c.CloseoutHandler.RegisterRoutes(api)

	return r
}

// Close releases the resources the container owns
func (c *Container) Close() {
	if c.Audit != nil {
		_ = c.Audit.Close()
	}
	if c.Publisher != nil {
		c.Publisher.Close()
	}
}
