package main

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/alzheon/alzheon/internal/config"
	"github.com/alzheon/alzheon/internal/domain/cognitive"
	"github.com/alzheon/alzheon/internal/domain/identity"
	"github.com/alzheon/alzheon/internal/domain/reminder"
	"github.com/alzheon/alzheon/internal/platform/blobstore"
	"github.com/alzheon/alzheon/internal/platform/db"
	"github.com/alzheon/alzheon/internal/platform/events"
	"github.com/alzheon/alzheon/internal/platform/gemini"
	"github.com/alzheon/alzheon/internal/platform/notification"
)

// stores holds the repositories of the configured store driver.
type stores struct {
	users       identity.UserRepository
	settings    reminder.SettingsRepository
	templates   cognitive.TemplateRepository
	assignments cognitive.AssignmentRepository
	submissions cognitive.SubmissionRepository
	tx          db.TxRunner
	health      echo.HandlerFunc
	mongoDB     *mongo.Database
	close       func()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to database")
		return &stores{
			users:       identity.NewUserRepoPG(pool),
			settings:    reminder.NewSettingsRepoPG(pool),
			templates:   cognitive.NewTemplateRepoPG(pool),
			assignments: cognitive.NewAssignmentRepoPG(pool),
			submissions: cognitive.NewSubmissionRepoPG(pool),
			tx:          db.PoolTx(pool),
			health:      db.PostgresHealthHandler(pool),
			close:       pool.Close,
		}, nil

	default:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		database := client.Database(cfg.MongoDatabase)
		closeFn := func() { _ = client.Disconnect(context.Background()) }

		for name, ensure := range map[string]func(context.Context, *mongo.Database) error{
			"identity":  identity.EnsureIndexes,
			"reminder":  reminder.EnsureIndexes,
			"cognitive": cognitive.EnsureIndexes,
		} {
			if err := ensure(ctx, database); err != nil {
				closeFn()
				return nil, fmt.Errorf("ensure %s indexes: %w", name, err)
			}
		}
		logger.Info().Str("driver", cfg.StoreDriver).Str("database", cfg.MongoDatabase).Msg("connected to database")

		return &stores{
			users:       identity.NewUserRepoMongo(database),
			settings:    reminder.NewSettingsRepoMongo(database),
			templates:   cognitive.NewTemplateRepoMongo(database),
			assignments: cognitive.NewAssignmentRepoMongo(database),
			submissions: cognitive.NewSubmissionRepoMongo(database),
			tx:          db.NoTx,
			health:      db.MongoHealthHandler(client),
			mongoDB:     database,
			close:       closeFn,
		}, nil
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config, st *stores) (blobstore.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BlobMemory:
		return blobstore.NewInMemoryBlobStore(), nil
	case config.BlobS3:
		client, err := blobstore.NewS3Client(ctx, cfg.S3Endpoint)
		if err != nil {
			return nil, err
		}
		return blobstore.NewS3Store(client, cfg.S3Bucket), nil
	default:
		if st.mongoDB == nil {
			return nil, fmt.Errorf("blob backend %q needs the mongo store", cfg.BlobBackend)
		}
		return blobstore.NewGridFSStore(st.mongoDB, cfg.GridFSBucket), nil
	}
}

func newMailer(cfg *config.Config, logger zerolog.Logger) (notification.EmailSender, error) {
	if cfg.SMTPHost == "" {
		logger.Warn().Msg("SMTP_HOST not set; emails are logged instead of sent")
		return notification.NewLogSender(logger), nil
	}
	return notification.NewSMTPSender(notification.SMTPConfig{
		Host:               cfg.SMTPHost,
		Port:               cfg.SMTPPort,
		Username:           cfg.SMTPUser,
		Password:           cfg.SMTPPassword,
		From:               cfg.SMTPFrom,
		InsecureSkipVerify: cfg.SMTPInsecureSkipVerify,
	})
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewNopPublisher(logger)
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaSubmissionTopic)
}

// app is the fully wired set of services shared by serve and the worker.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	stores     *stores
	blobs      blobstore.BlobStore
	publisher  events.Publisher
	identity   *identity.Service
	reminders  *reminder.Service
	dispatcher *reminder.Dispatcher
	cognitive  *cognitive.Service
	uploads    *cognitive.SubmissionService
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := newBlobStore(ctx, cfg, st)
	if err != nil {
		st.close()
		return nil, err
	}

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		st.close()
		return nil, err
	}
	templates := notification.NewTemplateEngine()
	publisher := newPublisher(cfg, logger)

	reminderSvc := reminder.NewService(st.settings, mailer, templates, loc)
	dispatcher := reminder.NewDispatcher(st.settings, mailer, templates, reminder.DispatcherConfig{
		BatchSize:    cfg.ReminderBatchSize,
		Lease:        cfg.ReminderLease,
		MailRPS:      cfg.ReminderMailRPS,
		Location:     loc,
		RetryBackoff: cfg.ReminderRetryBackoff,
		SkipBackoff:  cfg.ReminderSkipBackoff,
		SendTimeout:  cfg.ReminderSendTimeout,
	}, logger)

	identitySvc := identity.NewService(st.users, reminderSvc, st.tx)

	ai := gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL)
	if !ai.Configured() {
		logger.Warn().Msg("GEMINI_API_KEY not set; submissions are stored without analysis")
	}
	orchestrator := cognitive.NewOrchestrator(ai, cognitive.OrchestratorConfig{
		Timeout: cfg.AITimeout,
		Retries: cfg.AIRetries,
	}, logger)

	cognitiveSvc := cognitive.NewService(st.templates, st.assignments, identitySvc)
	uploads := cognitive.NewSubmissionService(cognitive.SubmissionDeps{
		Templates:     st.templates,
		Assignments:   st.assignments,
		Submissions:   st.submissions,
		Users:         identitySvc,
		Blobs:         blobs,
		Orchestrator:  orchestrator,
		Publisher:     publisher,
		Mailer:        mailer,
		MailTemplates: templates,
		Tx:            st.tx,
	}, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		stores:     st,
		blobs:      blobs,
		publisher:  publisher,
		identity:   identitySvc,
		reminders:  reminderSvc,
		dispatcher: dispatcher,
		cognitive:  cognitiveSvc,
		uploads:    uploads,
	}, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error().Err(err).Msg("close event publisher")
	}
	a.stores.close()
}
