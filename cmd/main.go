package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"receiptmanager/config"
	"receiptmanager/database"
	"receiptmanager/jobs"
	"receiptmanager/middleware"
	"receiptmanager/routes"
	"receiptmanager/services"
	"receiptmanager/storage"
	"receiptmanager/utils"
)

func main() {
	// Load .env before config.LoadConfig reads the environment
	loadEnvFile()

	utils.InitLogger()
	config.LoadConfig()
	cfg := config.AppConfig

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		utils.LogFatal("Failed to initialize object store", err)
	}

	meta, closeMeta, err := newMetadataStore(ctx, cfg)
	if err != nil {
		utils.LogFatal("Failed to initialize metadata store", err)
	}
	defer closeMeta()

	container := newServiceContainer(cfg, store, meta)

	if cfg.RequestListenerEnabled {
		listener := jobs.NewRequestListener(meta, container.Requests)
		if err := listener.Start(ctx); err != nil {
			utils.LogError("Failed to start request listener", err)
		} else {
			defer listener.Wait()
		}
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	api := router.Group("/api")
	routes.SetupRoutes(api, container)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		utils.LogInfof("Starting Receipt Manager server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.LogFatal("Failed to start server", err)
		}
	}()

	<-ctx.Done()
	utils.LogInfo("Shutting down server...")

	shutdownCtx, cancel := config.CreateContext(10 * time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.LogError("Server shutdown failed", err)
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageB2:
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return storage.NewB2Store(initCtx, cfg.B2ApplicationKeyID, cfg.B2ApplicationKey, cfg.B2BucketName, cfg.DownloadURLTTL)

	case config.StorageMinIO:
		store, err := storage.NewMinIOStore(storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Region:    cfg.MinIORegion,
			UseSSL:    cfg.MinIOUseSSL,
			URLTTL:    cfg.DownloadURLTTL,
		})
		if err != nil {
			return nil, err
		}
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.EnsureBucket(initCtx); err != nil {
			return nil, err
		}
		return store, nil

	case config.StorageMemory:
		utils.LogWarning("Using in-memory object store; files are lost on restart")
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// newMetadataStore returns the store and a func that releases it.
func newMetadataStore(ctx context.Context, cfg *config.Config) (database.MetadataStore, func(), error) {
	if cfg.MetadataBackend == config.MetadataMemory {
		utils.LogWarning("Using in-memory metadata store; documents are lost on restart")
		return database.NewMemoryStore(), func() {}, nil
	}

	connectCtx, cancel := config.CreateContext(10 * time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	disconnect := func() {
		disconnectCtx, disconnectCancel := config.CreateContext(5 * time.Second)
		defer disconnectCancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			utils.LogError("Failed to disconnect MongoDB", err)
		}
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		disconnect()
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	utils.LogInfo("Connected to MongoDB successfully")

	store := database.NewMongoStore(client.Database(cfg.DatabaseName))
	if err := store.EnsureIndexes(ctx); err != nil {
		utils.LogError("Failed to create indexes", err)
	}
	return store, disconnect, nil
}

func newServiceContainer(cfg *config.Config, store storage.ObjectStore, meta database.MetadataStore) *routes.ServiceContainer {
	hub := services.NewEventHub()
	optimizer := services.NewJPEGOptimizer(cfg.UploadMaxEdge, cfg.UploadJPEGQuality)

	tree := services.NewTreeService(store, true)
	bulk := services.NewBulkService(store, meta, tree, hub)
	files := services.NewFileService(store, meta, bulk, tree, hub, cfg.DownloadURLCacheSize, cfg.DownloadURLTTL)

	return &routes.ServiceContainer{
		JWTSecret:    cfg.JWTSecret,
		JWTIssuer:    cfg.JWTIssuer,
		MaxFileSize:  cfg.MaxFileSize,
		Tree:         tree,
		Bulk:         bulk,
		Files:        files,
		Uploads:      services.NewUploadService(store, meta, optimizer, tree, hub, cfg.UploadConcurrency, cfg.MaxFileSize, cfg.UploadRetention),
		Requests:     services.NewRequestService(meta, files, bulk, hub),
		Search:       services.NewDefaultSearchService(meta, cfg.SearchResultLimit),
		Labels:       services.NewLabelService(meta),
		Events:       hub,
		Recompressor: jobs.NewRecompressor(store, meta, optimizer, hub),
	}
}

// loadEnvFile looks for a .env file in the working directory and its
// parents. A missing file is fine; the environment is used as is.
func loadEnvFile() {
	pwd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not get working directory: %v", err)
		return
	}

	envPaths := []string{
		".env",
		"../.env",
		filepath.Join(filepath.Dir(pwd), ".env"),
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Failed to load .env from %s: %v", envPath, err)
			continue
		}
		absPath, _ := filepath.Abs(envPath)
		log.Printf("Loaded environment variables from: %s", absPath)
		return
	}

	log.Println("No .env file found, using system environment variables")
}
