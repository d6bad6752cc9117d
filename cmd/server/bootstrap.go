package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/meetrec/internal/api"
	"github.com/charlesng35/meetrec/internal/app"
	"github.com/charlesng35/meetrec/internal/app/maintenance"
	"github.com/charlesng35/meetrec/internal/audio"
	"github.com/charlesng35/meetrec/internal/auth"
	"github.com/charlesng35/meetrec/internal/cache"
	"github.com/charlesng35/meetrec/internal/database"
	"github.com/charlesng35/meetrec/internal/middleware"
	"github.com/charlesng35/meetrec/internal/monitoring"
	"github.com/charlesng35/meetrec/internal/monitoring/checks"
	"github.com/charlesng35/meetrec/internal/realtime"
	"github.com/charlesng35/meetrec/internal/services"
	"github.com/charlesng35/meetrec/pkg/logger"
)

const (
	databaseCheckTimeout = 3 * time.Second
	mergeHealthWindow    = 15 * time.Minute
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB          *gorm.DB
	Monitoring  *monitoring.Module
	Store       *services.FilesystemSegmentStore
	Registry    *services.SessionRegistry
	Hub         *realtime.Hub
	Coordinator *services.SessionCoordinator
	Catalog     *services.GormRecordingCatalog
	Cleaner     *maintenance.Cleaner
	Router      *gin.Engine
}

// bootstrapRuntime initialises storage, the meeting pipeline, background jobs
// and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup", zap.Error(shutdownErr))
			}
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.Monitoring, err = monitoring.NewModule(monitoring.Options{})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(stack.Monitoring)

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Store, err = services.NewFilesystemSegmentStore(
		cfg.Storage.SegmentsDir,
		cfg.Storage.RecordingsDir,
		services.WithSegmentExtension(cfg.Audio.SegmentExt),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise segment store: %w", err)
	}

	encoder := audio.NewFFmpegEncoder(
		audio.WithBinaries(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath),
		audio.WithTimeout(cfg.Audio.EncodeTimeout),
	)
	merger, err := services.NewMergeEngine(stack.Store, encoder, services.MergeConfig{
		Output: audio.EncodeOptions{
			Codec:      cfg.Audio.DefaultCodec,
			Bitrate:    cfg.Audio.Bitrate,
			Channels:   cfg.Audio.Channels,
			SampleRate: cfg.Audio.SampleRate,
		},
		FallbackCodec: cfg.Audio.FallbackCodec,
		Timeout:       cfg.Audio.MergeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise merge engine: %w", err)
	}

	stack.Registry = services.NewSessionRegistry()
	stack.Hub = realtime.NewHub(realtime.Config{
		PingInterval:    cfg.Realtime.PingInterval,
		PongTimeout:     cfg.Realtime.PongTimeout,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		SendBuffer:      cfg.Realtime.SendBuffer,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})

	stack.Catalog, err = services.NewRecordingCatalog(stack.DB, stack.Store,
		services.WithRetentionDays(cfg.Recordings.RetentionDays))
	if err != nil {
		return nil, fmt.Errorf("initialise recording catalog: %w", err)
	}

	coordinatorOpts := []services.CoordinatorOption{
		services.WithRecordingCatalog(stack.Catalog),
	}
	if summaries, err := buildSummaryClient(cfg); err != nil {
		return nil, err
	} else if summaries != nil {
		coordinatorOpts = append(coordinatorOpts, services.WithSummaryProvider(summaries))
	} else {
		log.Info("summary service not configured; summaries disabled")
	}
	if cfg.Upload.Enabled {
		uploader, err := services.NewHTTPUploader(services.HTTPUploaderConfig{
			BaseURL: cfg.Upload.BaseURL,
			Bucket:  cfg.Upload.Bucket,
			Timeout: cfg.Upload.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise recording uploader: %w", err)
		}
		coordinatorOpts = append(coordinatorOpts, services.WithRecordingUploader(uploader))
	}

	stack.Coordinator, err = services.NewSessionCoordinator(
		stack.Registry,
		merger,
		stack.Store,
		encoder,
		stack.Hub,
		services.CoordinatorConfig{
			AutoStartRecording: cfg.Meeting.AutoStartRecording,
			MaxParticipants:    cfg.Meeting.MaxParticipants,
			StopGrace:          cfg.Meeting.StopGrace,
			EndGrace:           cfg.Meeting.EndGrace,
			EndSettle:          cfg.Meeting.EndSettle,
			MinSegmentBytes:    cfg.Audio.MinSegmentBytes,
			SummaryDelay:       cfg.Summary.DeliveryDelay,
			IntermediateUpload: cfg.Upload.Intermediate,
		},
		coordinatorOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("initialise session coordinator: %w", err)
	}

	dispatcher, err := services.NewMeetingDispatcher(stack.Coordinator, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("initialise meeting dispatcher: %w", err)
	}

	var webhookTokens *auth.WebhookTokenService
	if secret := strings.TrimSpace(cfg.Webhook.Secret); secret != "" {
		webhookTokens, err = auth.NewWebhookTokenService(auth.WebhookTokenConfig{
			Secret: secret,
			Issuer: cfg.Webhook.Issuer,
		})
		if err != nil {
			return nil, fmt.Errorf("initialise webhook tokens: %w", err)
		}
	} else {
		log.Warn("webhook.secret is empty; webhook endpoints are unauthenticated")
	}

	registerHealthChecks(stack.Monitoring.Health(), stack, encoder)

	rateStore, counters, err := buildRateStore(cfg, stack.DB)
	if err != nil {
		return nil, err
	}

	stack.Cleaner = maintenance.NewCleaner(
		maintenance.WithDatabase(stack.DB),
		maintenance.WithCounterPurge(counters),
		maintenance.WithScratchPurge(stack.Store, stack.Registry, cfg.Maintenance.ScratchMaxAge),
		maintenance.WithRecordingRetention(stack.Catalog, cfg.Maintenance.RetentionBatch),
		maintenance.WithScratchSchedule(cfg.Maintenance.ScratchSchedule),
		maintenance.WithRetentionSchedule(cfg.Maintenance.RetentionSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:        cfg,
		Monitoring:    stack.Monitoring,
		Sessions:      stack.Registry,
		Recordings:    stack.Catalog,
		Summaries:     stack.Coordinator,
		Hub:           stack.Hub,
		Dispatcher:    dispatcher,
		WebhookTokens: webhookTokens,
		RateStore:     rateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func buildSummaryClient(cfg *app.Config) (*services.SummaryClient, error) {
	if strings.TrimSpace(cfg.Summary.BaseURL) == "" {
		return nil, nil
	}
	client, err := services.NewSummaryClient(services.SummaryClientConfig{
		BaseURL:          cfg.Summary.BaseURL,
		FinalPath:        cfg.Summary.FinalPath,
		IntermediatePath: cfg.Summary.IntermediatePath,
		Timeout:          cfg.Summary.Timeout,
		TokenURL:         cfg.Summary.OAuth.TokenURL,
		ClientID:         cfg.Summary.OAuth.ClientID,
		ClientSecret:     cfg.Summary.OAuth.ClientSecret,
		Scopes:           cfg.Summary.OAuth.Scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise summary client: %w", err)
	}
	return client, nil
}

// buildRateStore picks the webhook rate-limit backend. counters is non-nil
// only for the database store, whose expired rows need purging.
func buildRateStore(cfg *app.Config, db *gorm.DB) (middleware.RateStore, maintenance.CounterPurger, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Webhook.RateStore)) {
	case "", "memory":
		return middleware.NewMemoryRateStore(), nil, nil
	case "database", "db":
		store := cache.NewDatabaseStore(db)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("webhook.rate_store %q is not supported", cfg.Webhook.RateStore)
	}
}

func registerHealthChecks(health *monitoring.HealthManager, stack *runtimeStack, encoder *audio.FFmpegEncoder) {
	ffmpeg, ffprobe := encoder.Binaries()
	segmentsDir, recordingsDir := stack.Store.Directories()

	health.RegisterLiveness(checks.Realtime(stack.Hub))
	health.RegisterReadiness(checks.Database(stack.DB, databaseCheckTimeout))
	health.RegisterReadiness(checks.Storage(segmentsDir, recordingsDir))
	health.RegisterReadiness(checks.Encoder(ffmpeg, ffprobe))
	health.RegisterReadiness(checks.Merges(mergeHealthWindow))
	health.RegisterReadiness(checks.Maintenance(0))
}

// Shutdown stops background jobs, waits for in-flight merges and releases
// resources.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}
	if s.Coordinator != nil {
		errs = multierr.Append(errs, s.Coordinator.Close(ctx))
	}
	if s.Cleaner != nil {
		errs = multierr.Append(errs, s.Cleaner.PurgeScratch(ctx))
	}
	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	var creds app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		creds = cfg.Database.Postgres
	case "mysql":
		creds = cfg.Database.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(creds.Host)
	dbCfg.Port = creds.Port
	dbCfg.Name = strings.TrimSpace(creds.Database)
	dbCfg.User = strings.TrimSpace(creds.Username)
	dbCfg.Password = strings.TrimSpace(creds.Password)
	dbCfg.Options = creds.Options
	return dbCfg
}
