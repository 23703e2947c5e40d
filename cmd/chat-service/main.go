package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appHandler "ispilo-backend/internal/handler/http/app"
	authHandler "ispilo-backend/internal/handler/http/auth"
	conversationHandler "ispilo-backend/internal/handler/http/conversation"
	wsHandler "ispilo-backend/internal/handler/ws"
	"ispilo-backend/internal/middleware"
	"ispilo-backend/internal/repository/cassandra"
	"ispilo-backend/internal/repository/cockroach"
	redisRepo "ispilo-backend/internal/repository/redis"
	appidentityService "ispilo-backend/internal/service/appidentity"
	authService "ispilo-backend/internal/service/auth"
	"ispilo-backend/internal/service/broadcast"
	chatService "ispilo-backend/internal/service/chat"
	conversationService "ispilo-backend/internal/service/conversation"
	"ispilo-backend/pkg/database"
	"ispilo-backend/pkg/env"
	"ispilo-backend/pkg/jwt"
	"ispilo-backend/pkg/logger"
	"ispilo-backend/pkg/metrics"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	// JWT manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewManager(jwtSecret, 24*time.Hour)

	// CockroachDB: users, conversations, app credentials, conversation keys
	cockroachDB, err := database.NewCockroachDB(context.Background(), &database.CockroachConfig{
		Host:     env.GetString("COCKROACH_HOST", "localhost"),
		Port:     env.GetInt("COCKROACH_PORT", 26257),
		User:     env.GetString("COCKROACH_USER", "root"),
		Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
		Database: env.GetString("COCKROACH_DATABASE", "ispilo_db"),
		SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
	})
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("connected to CockroachDB")

	// Cassandra: message history
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "ispilo_ks"),
		Username: env.GetStringFromFile("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  10 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("connected to Cassandra")

	// Redis: event fan-out and presence
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("connected to Redis")

	// Repositories
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	keyRepo := cockroach.NewKeyRepository(cockroachDB.Pool)
	credentialRepo := cockroach.NewAppCredentialRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)

	// Services
	appSvc := appidentityService.NewService(credentialRepo)
	if err := appSvc.InitServerKeys(env.GetString("SERVER_KEYPAIR_PATH", "")); err != nil {
		logger.Fatal("failed to initialize server keys", zap.Error(err))
	}

	broadcaster := broadcast.NewBroadcaster(redisDB.Client)
	authSvc := authService.NewService(userRepo, jwtManager)
	conversationSvc := conversationService.NewService(conversationRepo, userRepo, messageRepo)
	chatSvc := chatService.NewService(messageRepo, conversationRepo, keyRepo, broadcaster)

	// Metrics
	appMetrics := metrics.NewMetrics("chat-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// Handlers
	appHdlr := appHandler.NewHandler(appSvc)
	authHdlr := authHandler.NewHandler(authSvc)
	conversationHdlr := conversationHandler.NewHandler(conversationSvc, chatSvc)
	chatHub := wsHandler.NewChatHub(chatSvc, broadcaster, presenceRepo, jwtManager)

	// Router
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "chat-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	api := router.Group("/api")
	{
		app := api.Group("/app")
		{
			app.POST("/register", appHdlr.Register)
			app.GET("/public-key", middleware.AppCheckMiddleware(appSvc), appHdlr.PublicKey)
			app.GET("/verify/:appId", appHdlr.Verify)
			app.POST("/deactivate/:appId", appHdlr.Deactivate)
		}

		auth := api.Group("/auth")
		{
			auth.POST("/register", authHdlr.Register)
			auth.POST("/login", authHdlr.Login)
		}

		conversations := api.Group("/conversations")
		conversations.Use(middleware.AuthMiddleware(jwtManager))
		{
			conversations.POST("", conversationHdlr.Create)
			conversations.GET("", conversationHdlr.List)
			conversations.GET("/:id", conversationHdlr.Get)
			conversations.DELETE("/:id", conversationHdlr.Leave)
			conversations.GET("/:id/messages", conversationHdlr.Messages)
			conversations.PUT("/:id/read", conversationHdlr.MarkRead)
		}
	}

	// WebSocket endpoint authenticates at upgrade time, outside AuthMiddleware
	router.GET("/ws/chat", chatHub.ServeWS)

	// Server with graceful shutdown
	port := env.GetString("PORT", "8082")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		logger.Info("chat service starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
