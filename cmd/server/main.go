package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/config"
	"github.com/quocanhngo/clipsync/internal/handler"
	"github.com/quocanhngo/clipsync/internal/middleware"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/pubsub"
	"github.com/quocanhngo/clipsync/internal/repository"
	"github.com/quocanhngo/clipsync/internal/service"
	"github.com/quocanhngo/clipsync/internal/ws"
	"github.com/quocanhngo/clipsync/migrations"
	"github.com/quocanhngo/clipsync/pkg/auth"
	"github.com/quocanhngo/clipsync/pkg/encryption"
	"github.com/quocanhngo/clipsync/pkg/notification"
	"github.com/quocanhngo/clipsync/pkg/ratelimit"
	"github.com/quocanhngo/clipsync/pkg/storage"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// @title           ClipSync API
// @version         1.0
// @description     Multi-device clipboard synchronization with Go, Gin, WebSocket, Redis Pub/Sub.
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.url    http://www.swagger.io/support
// @contact.email  support@clipsync.local

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      api.localhost
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("🚀 Starting ClipSync API Server [env=%s]", cfg.App.Env)

	// ==================== Database (PostgreSQL) ====================
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.App.IsProduction() {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	// ==================== Run Migrations ====================
	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Printf("⚠️  Migration warning: %v", err)
		log.Println("📦 Falling back to GORM AutoMigrate...")
		if err := db.AutoMigrate(&model.User{}, &model.Device{}); err != nil {
			log.Fatalf("❌ Failed to migrate database: %v", err)
		}
	}
	log.Println("✅ Database migrated successfully")

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// Background loops stop with this context
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// ==================== Security ====================
	var revocations auth.RevocationStore
	switch cfg.Security.RevocationStore {
	case "redis":
		revocations = auth.NewRedisRevocationStore(rdb)
		log.Println("🔒 Token revocation: shared (Redis)")
	default:
		blacklist := auth.NewBlacklist()
		go blacklist.Run(bgCtx, cfg.Security.RevocationSweepInterval)
		revocations = blacklist
		log.Println("🔒 Token revocation: in-memory")
	}
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry, revocations)

	keys, err := encryption.LoadOrGenerate(cfg.Security.RSAPrivateKeyPath, cfg.Security.RSAKeyBits)
	if err != nil {
		log.Fatalf("❌ Failed to load RSA key: %v", err)
	}
	log.Printf("🔐 RSA keypair ready (%d bits)", cfg.Security.RSAKeyBits)

	limiter := ratelimit.New(cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow)
	go limiter.Run(bgCtx, cfg.Security.RateLimitWindow)

	// ==================== Initialize Layers ====================
	// Repositories
	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	clipboardRepo := repository.NewClipboardRepository(rdb, cfg.Clipboard.MaxHistory, cfg.Clipboard.ItemTTL)
	presenceRepo := repository.NewPresenceRepository(rdb, cfg.WS.PresenceTTL)
	log.Printf("📋 Clipboard: keeping %d items per user for %s, presence TTL %s",
		clipboardRepo.MaxHistory(), cfg.Clipboard.ItemTTL, presenceRepo.TTL())

	// Pub/Sub bridge: one Redis subscription per user with local sockets
	bridge := pubsub.NewBridge(rdb, pubsub.DefaultBuffer)
	go bridge.Run(bgCtx)

	// WebSocket Hub
	hub := ws.NewHub(bridge, presenceRepo, ws.Config{
		HeartbeatTimeout: cfg.WS.PresenceTTL,
		MaxMessageSize:   cfg.Clipboard.MaxSize + 1<<20,
		MessageRate:      rate.Limit(cfg.WS.MessageRate),
		MessageBurst:     cfg.WS.MessageBurst,
	})
	go hub.Run(bgCtx)

	// Services
	authService := service.NewAuthService(userRepo, deviceRepo, jwtManager, keys, presenceRepo)
	clipboardService := service.NewClipboardService(clipboardRepo, bridge, keys, cfg.Clipboard.MaxSize)
	deviceService := service.NewDeviceService(deviceRepo, presenceRepo, hub, clipboardService)

	hub.OnStatusChange(func(userID uuid.UUID, deviceID string, online bool) {
		deviceService.Seen(deviceID, time.Now())
		log.Printf("📱 Device %s of %s is now %s", deviceID, userID, map[bool]string{true: "ONLINE", false: "OFFLINE"}[online])
	})

	// MinIO Storage
	if cfg.MinIO.Enabled {
		minioStorage, err := storage.NewMinIO(bgCtx, storage.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			PublicURL: cfg.MinIO.PublicURL,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Expiry:    cfg.Clipboard.ItemTTL,
		})
		if err != nil {
			log.Printf("⚠️  MinIO not available: %v (file upload disabled)", err)
		} else {
			clipboardService.WithFileStore(minioStorage)
			log.Println("✅ Connected to MinIO")
		}
	}

	// Push notifications (FCM)
	notifier, err := notification.NewNotificationService(bgCtx, cfg.Firebase.CredentialsFile, deviceRepo, presenceRepo)
	if err != nil {
		log.Printf("⚠️  FCM not available: %v", err)
	}
	if notifier != nil {
		clipboardService.WithNotifier(notifier)
	}

	// Handlers
	authHandler := handler.NewAuthHandler(authService)
	clipboardHandler := handler.NewClipboardHandler(clipboardService)
	uploadHandler := handler.NewUploadHandler(clipboardService)
	deviceHandler := handler.NewDeviceHandler(deviceService)
	wsHandler := handler.NewWSHandler(hub, authService, clipboardService, cfg.WS.AuthTimeout, cfg.CORS.Origins)

	// ==================== Gin Router ====================
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Swagger configuration
	// Serve swagger.json at /docs/swagger.json to avoid conflict with /swagger/* wildcard
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")
	url := ginSwagger.URL("/docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, url))

	// Global middleware
	router.Use(middleware.SecurityHeaders(cfg.App.IsProduction()))
	router.Use(middleware.CORSMiddleware(cfg.CORS.Origins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":      status,
			"service":     "clipsync-api",
			"time":        time.Now().Format(time.RFC3339),
			"connections": hub.Total(),
		})
	})

	// ==================== API Routes ====================
	api := router.Group("/api/v1")
	api.Use(middleware.RateLimit(limiter))
	{
		// Auth routes (public)
		authGroup := api.Group("/auth")
		{
			authGroup.GET("/public-key", authHandler.PublicKey)
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(authService))
		{
			// Auth
			protected.POST("/auth/logout", authHandler.Logout)
			protected.POST("/auth/key-exchange", authHandler.KeyExchange)
			protected.GET("/auth/profile", authHandler.Profile)

			// Clipboard
			protected.POST("/clipboard", clipboardHandler.Add)
			protected.POST("/clipboard/upload", uploadHandler.Upload)
			protected.GET("/clipboard", clipboardHandler.List)
			protected.GET("/clipboard/latest", clipboardHandler.Latest)
			protected.GET("/clipboard/stats", clipboardHandler.Stats)
			protected.GET("/clipboard/:id", clipboardHandler.Get)
			protected.DELETE("/clipboard/:id", clipboardHandler.Delete)
			protected.DELETE("/clipboard", clipboardHandler.Clear)

			// Devices
			protected.GET("/devices", deviceHandler.List)
			protected.GET("/devices/stats", deviceHandler.Stats)
			protected.GET("/devices/:id/status", deviceHandler.Status)
			protected.PUT("/devices/:id", deviceHandler.Update)
			protected.DELETE("/devices/:id", deviceHandler.Delete)
			protected.DELETE("/devices/:id/clips", deviceHandler.Purge)
		}
	}

	// WebSocket endpoint (token via query parameter or first auth frame)
	router.GET("/ws", wsHandler.HandleWebSocket)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	log.Printf("🌐 ClipSync API running on http://0.0.0.0:%s", cfg.App.Port)
	log.Printf("📋 API docs: http://0.0.0.0:%s/swagger/index.html", cfg.App.Port)
	log.Printf("🔌 WebSocket: ws://0.0.0.0:%s/ws?token=<jwt>", cfg.App.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down server...")

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	hub.CloseAll()
	bgCancel()
	if err := bridge.Close(); err != nil {
		log.Printf("⚠️  Bridge close: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Printf("⚠️  Redis close: %v", err)
	}
	log.Println("✅ Server exited gracefully")
}
