package main

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/connect-now/config"
	"github.com/mossy-p/connect-now/internal/api"
	"github.com/mossy-p/connect-now/internal/middleware"
	"github.com/mossy-p/connect-now/internal/store"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.Environment)
	defer logger.Sync()

	st, err := store.NewRedisStore(cfg.Redis, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer st.Close()

	logger.Info("Redis connection established")

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(api.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	handler := api.NewHandler(st, st, logger.Named("api"))

	// Room management API (authenticated)
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", api.Login(cfg.JWTSecret))

		// Create room (requires JWT)
		apiGroup.POST("/rooms", middleware.JWTAuth(cfg.JWTSecret), handler.CreateRoom)

		// Get room info (public)
		apiGroup.GET("/rooms/:roomId", handler.GetRoom)

		// Delete room and its signaling state (requires JWT, creator only)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(cfg.JWTSecret), handler.DeleteRoom)
	}

	// Observer feed for the dashboard - accepts room code or ID
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/watch/:roomId", handler.WatchRoom)
	}

	logger.Info("starting room service", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

func newLogger(environment string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
