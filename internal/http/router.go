package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mkarwoski/userdeck/internal/auth"
	"github.com/mkarwoski/userdeck/internal/cache"
	"github.com/mkarwoski/userdeck/internal/config"
	"github.com/mkarwoski/userdeck/internal/http/handlers"
	"github.com/mkarwoski/userdeck/internal/http/middlewares"
	"github.com/mkarwoski/userdeck/internal/observability"
	"github.com/mkarwoski/userdeck/internal/repo/postgres"
)

const maxRequestBody = 1 << 20 // 1 MiB, uploads excluded below

func NewRouter(cfg config.Config, log *slog.Logger, pool *pgxpool.Pool, prom *observability.Prom, registry *prometheus.Registry, rdb *redis.Client) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins))
	r.Use(middlewares.RequireJSON())
	r.Use(otelgin.Middleware("userdeck"))

	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
	}

	// health
	ping := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	jwtManager := auth.NewManager(cfg.JWTSecret, time.Duration(cfg.SessionTTLHours)*time.Hour)
	authMW := middlewares.NewAuthMiddleware(jwtManager)

	listCache := cache.New(5 * time.Second)

	authHandler := handlers.NewAuthHandler(usersRepo, jobsRepo, jwtManager, cfg, log)
	usersHandler := handlers.NewUsersHandler(usersRepo, jobsRepo, listCache, cfg, log)
	uploadsHandler := handlers.NewUploadsHandler(cfg)

	// credential endpoints get a fixed window per client IP
	limiter := middlewares.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow, rdb)
	authLimited := limiter.RateLimiterMiddleware(middlewares.KeyByIP)

	authGroup := r.Group("/auth")
	authGroup.Use(middlewares.MaxBodyBytes(maxRequestBody))
	{
		authGroup.POST("/signup", authLimited, authHandler.SignUp)
		authGroup.POST("/login", authLimited, authHandler.Login)
		authGroup.POST("/forgot-password", authLimited, authHandler.ForgotPassword)
		authGroup.POST("/reset-password", authHandler.ResetPassword)
	}

	// user management is admin only; role comes from verified claims
	usersGroup := r.Group("/users")
	usersGroup.Use(middlewares.MaxBodyBytes(maxRequestBody))
	usersGroup.Use(authMW.RequireAuth(), authMW.RequireRole("admin"))
	{
		usersGroup.GET("", usersHandler.List)
		usersGroup.GET("/:id", usersHandler.Get)
		usersGroup.POST("", usersHandler.Create)
		usersGroup.PUT("/:id", usersHandler.Update)
		usersGroup.DELETE("/:id", usersHandler.Delete)
	}

	uploadLimited := limiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP)

	r.POST("/upload", authMW.RequireAuth(), uploadLimited, uploadsHandler.Upload)
	r.Static("/uploads", cfg.UploadDir)

	return r
}
