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
	"github.com/kohakuhub/hub/internal/api"
	"github.com/kohakuhub/hub/internal/auth"
	"github.com/kohakuhub/hub/internal/blobstore"
	"github.com/kohakuhub/hub/internal/branch"
	"github.com/kohakuhub/hub/internal/commit"
	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/db"
	"github.com/kohakuhub/hub/internal/gc"
	"github.com/kohakuhub/hub/internal/gitbridge"
	"github.com/kohakuhub/hub/internal/lakefs"
	"github.com/kohakuhub/hub/internal/lfsprotocol"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.Level(cfg.LogLevel))
	logger.SetFormatter(&logrus.JSONFormatter{})

	database, err := db.Connect(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	blobs, err := blobstore.NewBackend(blobstore.Config{
		Backend: cfg.S3.Backend,
		S3: blobstore.S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			EndpointURL:     cfg.S3.EndpointURL,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
		},
		Azure: blobstore.AzureConfig{
			AccountName:   cfg.S3.AzureAccountName,
			AccountKey:    cfg.S3.AzureAccountKey,
			ContainerName: cfg.S3.AzureContainerName,
			EndpointURL:   cfg.S3.EndpointURL,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize blob store backend")
	}

	lakefsClient := lakefs.NewClient(cfg.LakeFS)

	locker, err := gc.NewLocker(cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize GC locker")
	}
	gcEngine := gc.NewEngine(database.DB, blobs, lakefsClient, locker, logger)

	jwtManager := auth.NewJWTManager(cfg.JWT)
	authService := auth.NewService(database.DB, jwtManager, cfg)

	commitEngine := commit.NewEngine(database.DB, blobs, lakefsClient, gcEngine, cfg.S3.Bucket, logger)
	branchEngine := branch.NewEngine(database.DB, lakefsClient, gcEngine, cfg.LFS, logger)
	lfsEngine := lfsprotocol.NewEngine(database.DB, blobs)
	gitBridge := gitbridge.NewEngine(database.DB, lakefsClient, cfg.LFS, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		for _, allowedOrigin := range cfg.CORS.AllowedOrigins {
			if origin == allowedOrigin {
				c.Header("Access-Control-Allow-Origin", origin)
				break
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	api.SetupRoutes(router, &api.Dependencies{
		Config:     cfg,
		DB:         database.DB,
		Logger:     logger,
		Auth:       authService,
		JWTManager: jwtManager,
		Blobs:      blobs,
		LakeFS:     lakefsClient,
		GC:         gcEngine,
		Commit:     commitEngine,
		Branch:     branchEngine,
		LFS:        lfsEngine,
		GitBridge:  gitBridge,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}

	logger.Info("Server stopped")
}
