package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared/valueobject"
	"github.com/erp/ledger/internal/infrastructure/cache"
	"github.com/erp/ledger/internal/infrastructure/config"
	"github.com/erp/ledger/internal/infrastructure/event"
	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/erp/ledger/internal/infrastructure/persistence"
	"github.com/erp/ledger/internal/infrastructure/persistence/team"
	"github.com/erp/ledger/internal/infrastructure/storage"
	"github.com/erp/ledger/internal/infrastructure/telemetry"
	"github.com/erp/ledger/internal/interfaces/http/handler"
	"github.com/erp/ledger/internal/interfaces/http/middleware"
	"github.com/erp/ledger/internal/interfaces/http/router"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Cache names registered with the synchronizer at startup
const (
	invoiceListCache = "invoices"
	paymentListCache = "payments"
	detailCache      = "detail"
	exportCache      = "export"
)

// multipart framing on top of the attachment itself
const uploadOverhead = 1 << 20

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ledger service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx := context.Background()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	meter := mp.Meter(cfg.Telemetry.ServiceName)
	ledgerMetrics, err := telemetry.NewLedgerMetrics(meter)
	if err != nil {
		log.Fatal("Failed to register ledger metrics", zap.Error(err))
	}

	// Database with zap-backed GORM logger, tracing and team scoping
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		logger.WithSQL(cfg.Telemetry.DBLogFullSQL),
	)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	if err := team.EnableAutoTeamFilter(db.DB, false); err != nil {
		log.Fatal("Failed to register team filter", zap.Error(err))
	}
	log.Info("Database connected successfully")

	repo := persistence.NewGormLedgerRepository(db.DB)

	// Engine and the caches it keeps in step
	synchronizer := ledgerapp.NewSynchronizer(log, ledgerapp.WithCacheMetrics(ledgerMetrics))
	listSort := ledgerapp.SortKey(cfg.Ledger.ListSortKey)
	export := ledgerapp.NewViewCache(exportCache, ledgerapp.ShapeDetail)
	for _, c := range []ledgerapp.Cache{
		ledgerapp.NewViewCache(invoiceListCache, ledgerapp.ShapeListRow,
			ledgerapp.WithKinds(ledger.KindInvoice), ledgerapp.WithSortKey(listSort)),
		ledgerapp.NewViewCache(paymentListCache, ledgerapp.ShapeListRow,
			ledgerapp.WithKinds(ledger.KindPayment), ledgerapp.WithSortKey(listSort)),
		ledgerapp.NewViewCache(detailCache, ledgerapp.ShapeDetail, ledgerapp.WithInsertMissing(false)),
		export,
	} {
		if err := synchronizer.Register(c); err != nil {
			log.Fatal("Failed to register cache", zap.String("cache", c.Name()), zap.Error(err))
		}
	}
	engine := ledger.NewEngine(ledger.NewStore(), ledger.WithDiffSink(synchronizer))

	eventBus := event.NewInMemoryEventBus(log)
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			_ = client.Close()
		}()
		exporter := cache.NewRedisSnapshotExporter(export, client, cfg.Ledger.ExportPrefix, cfg.Ledger.ExportTTL, log)
		eventBus.Subscribe(exporter)
		log.Info("Redis snapshot export enabled", zap.String("addr", cfg.Redis.Addr()))
	}
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Attachment storage
	var objects ledgerapp.ObjectStorage
	if cfg.Storage.Enabled {
		s3, err := storage.NewS3ObjectStorage(&cfg.Storage,
			storage.WithLogger(log),
			storage.WithPresignExpiration(cfg.Storage.PresignExpiration),
		)
		if err != nil {
			log.Fatal("Failed to initialize object storage", zap.Error(err))
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare attachment bucket", zap.Error(err))
		}
		objects = s3
	} else {
		log.Warn("Object storage disabled, attachments are kept in memory")
		objects = storage.NewMemoryObjectStorage("http://localhost:" + cfg.App.Port + "/attachments")
	}

	// Application services
	ledgerService := ledgerapp.NewLedgerService(ledgerapp.LedgerServiceConfig{
		Engine:         engine,
		Synchronizer:   synchronizer,
		Repository:     repo,
		EventPublisher: eventBus,
		Metrics:        ledgerMetrics,
		Logger:         log,
	})
	attachmentService := ledgerapp.NewAttachmentService(ledgerService, objects, log)
	attachmentConfig := ledgerapp.DefaultAttachmentServiceConfig()
	attachmentConfig.MaxFileSize = cfg.Storage.MaxFileSize
	if cfg.Storage.PresignExpiration > 0 {
		attachmentConfig.DownloadURLExpiry = cfg.Storage.PresignExpiration
	}
	attachmentService.SetConfig(attachmentConfig)

	for _, raw := range cfg.Ledger.PreloadTeams {
		teamID, err := uuid.Parse(raw)
		if err != nil {
			log.Fatal("Invalid team in ledger.preload_teams", zap.String("team_id", raw), zap.Error(err))
		}
		loadCtx, _ := logger.WithTeamID(ctx, log, teamID.String())
		if _, err := ledgerService.Load(loadCtx, teamID); err != nil {
			log.Fatal("Failed to preload team ledger", zap.String("team_id", raw), zap.Error(err))
		}
	}

	// HTTP engine and routes
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	bodyLimit := cfg.HTTP.MaxBodySize
	if upload := cfg.Storage.MaxFileSize + uploadOverhead; upload > bodyLimit {
		bodyLimit = upload
	}
	ginEngine, err := router.NewEngine(router.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		Logger:         log,
		Meter:          meter,
		TracingEnabled: cfg.Telemetry.Enabled,
		CORS:           cors,
		Security: middleware.SecurityConfig{
			HSTSEnabled: cfg.App.Env == "production",
			HSTSMaxAge:  31536000,
		},
		Team:           middleware.DefaultTeamConfig(),
		MaxBodySize:    bodyLimit,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	router.NewRouter(ginEngine).
		RegisterRoot(handler.NewSystemHandler(cfg.App.Name, version, ledgerService).WithDatabaseCheck(db.Ping)).
		Register(handler.NewViewHandler(ledgerService)).
		Register(handler.NewAllocationHandler(ledgerService)).
		Register(handler.NewDocumentHandler(ledgerService, valueobject.Currency(cfg.Ledger.DefaultCurrency))).
		Register(handler.NewAttachmentHandler(ledgerService, attachmentService, cfg.Storage.MaxFileSize)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        ginEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
