package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sightline-forensics/sightline/internal/analysis"
	"github.com/sightline-forensics/sightline/internal/auth"
	"github.com/sightline-forensics/sightline/internal/config"
	"github.com/sightline-forensics/sightline/internal/faces"
	"github.com/sightline-forensics/sightline/internal/forensics"
	"github.com/sightline-forensics/sightline/internal/gallery"
	"github.com/sightline-forensics/sightline/internal/handlers"
	"github.com/sightline-forensics/sightline/internal/imaging"
	"github.com/sightline-forensics/sightline/internal/logging"
	"github.com/sightline-forensics/sightline/internal/repository"
	"github.com/sightline-forensics/sightline/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	var repo usecase.AnalysisRepository
	if cfg.DatabaseDSN == "" {
		logger.Warn("DATABASE_DSN not set, audit log disabled")
		repo = repository.Disabled{}
	} else {
		db := initDatabase(ctx, cfg.DatabaseDSN, logger)
		analysisRepo := repository.NewAnalysisRepository(db, logger)
		if err := analysisRepo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		repo = analysisRepo
	}

	var cache usecase.Cache
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, result cache disabled")
		cache = usecase.NoopCache{}
	} else {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
	}

	store := gallery.NewStore(cfg.GalleryPath, cfg.EmbeddingDim, logger)
	stats, err := store.Reload()
	if err != nil {
		logger.Fatal("gallery load failed", zap.Error(err))
	}
	logger.Info("gallery loaded", zap.Int("identities", stats.Identities), zap.Int("embeddings", stats.Embeddings))

	var locator faces.Locator
	if cfg.FaceCascadePath == "" {
		logger.Warn("FACE_CASCADE_PATH not set, face pipeline disabled")
	} else {
		cascadeCfg := faces.DefaultCascadeConfig()
		cascadeCfg.MinConfidence = cfg.MinFaceConfidence
		cascade, err := faces.NewCascadeLocator(cfg.FaceCascadePath, cascadeCfg)
		if err != nil {
			logger.Fatal("cascade model load failed", zap.Error(err))
		}
		locator = cascade
	}

	embedder, err := faces.NewEmbedder(cfg.EmbeddingDim)
	if err != nil {
		logger.Fatal("embedder init failed", zap.Error(err))
	}
	matcher := gallery.NewMatcher(store, cfg.MatchThreshold)

	forensicsCfg := forensics.DefaultConfig()
	forensicsCfg.HighThreshold = cfg.TamperHighThreshold
	forensicsCfg.LowThreshold = cfg.TamperLowThreshold
	forensicsCfg.CompressionWeight = cfg.CompressionWeight
	forensicsCfg.CopyMoveWeight = cfg.CopyMoveWeight
	forensicsCfg.MetadataWeight = cfg.MetadataWeight
	forensicsCfg.Compression.Quality = cfg.RecompressQuality

	loader := imaging.NewLoader(cfg.MaxImageDim, cfg.TargetImageDim)
	engine := analysis.NewEngine(loader, forensics.NewAnalyzer(forensicsCfg), locator, embedder, matcher, logger)
	uc := usecase.NewAnalysisUseCase(repo, cache, engine, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AddAllowHeaders("Authorization", "X-Api-User", "X-Api-Secret")
	r.Use(cors.New(corsCfg))

	creds := auth.Credentials{User: cfg.APIUser, Secret: cfg.APISecret}
	authMiddleware := auth.Middleware(creds, cfg.JWTSecret, cfg.JWTAudience)

	handlers.RegisterRoutes(r, uc, store, authMiddleware, logger, cfg.MaxUploadBytes)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	logger.Info("image detection API listening", zap.String("addr", server.Addr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Info)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
