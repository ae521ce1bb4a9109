package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/crm"
	"github.com/joseph-ayodele/connect-cards/internal/export"
	"github.com/joseph-ayodele/connect-cards/internal/extract"
	"github.com/joseph-ayodele/connect-cards/internal/llm/openai"
	"github.com/joseph-ayodele/connect-cards/internal/pipeline"
	"github.com/joseph-ayodele/connect-cards/internal/queue"
	"github.com/joseph-ayodele/connect-cards/internal/repository"
	"github.com/joseph-ayodele/connect-cards/internal/scan"
	"github.com/joseph-ayodele/connect-cards/internal/storage"
)

// app is everything the process command runs against.
type app struct {
	db       *repository.Client
	cards    repository.CardRepository
	queue    *queue.Manager
	scan     *scan.Service
	crm      *crm.Dispatcher
	exporter *export.Service
}

func buildApp(ctx context.Context, c *commandContext, cfg *common.Config) (*app, error) {
	logger := c.logger
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := c.openDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	store, err := c.sessionStore()
	if err != nil {
		db.Close()
		return nil, err
	}

	cards := repository.NewCardRepository(db, logger)
	batches := repository.NewBatchRepository(db, logger)

	uploader := storage.NewClient(storage.Config{
		PresignURL: cfg.Upload.PresignURL,
		APIKey:     cfg.Upload.APIKey,
		Timeout:    cfg.Upload.Timeout,
	}, logger)
	vision := openai.NewClient(openai.Config{
		APIKey:          cfg.Extraction.APIKey,
		BaseURL:         cfg.Extraction.BaseURL,
		Model:           cfg.Extraction.Model,
		Temperature:     cfg.Extraction.Temperature,
		Timeout:         cfg.Extraction.Timeout,
		ImageDetail:     cfg.Extraction.ImageDetail,
		LenientOptional: cfg.Extraction.LenientOptional,
	}, logger)
	dispatcher := crm.NewDispatcher(
		crm.NewSyncer(crm.Config{
			WebhookURL:  cfg.CRM.WebhookURL,
			APIKey:      cfg.CRM.APIKey,
			Timeout:     cfg.CRM.SyncTimeout,
			MaxAttempts: cfg.CRM.MaxAttempts,
		}, logger),
		logger,
		crm.WithWorkers(cfg.CRM.Workers),
		crm.WithQueueSize(cfg.CRM.QueueSize),
		crm.WithSyncTimeout(cfg.CRM.SyncTimeout),
	)

	processor := pipeline.NewProcessor(logger,
		pipeline.NewUploadStage(uploader, cfg.Upload.MaxImageBytes, logger),
		pipeline.NewExtractStage(extract.NewService(cards, vision, logger), logger),
		pipeline.NewNormalizeStage(),
		pipeline.NewSaveStage(repository.NewRecordStore(cards, logger), dispatcher, logger),
		cfg.Queue.StageTimeout,
	)
	mgr := queue.NewManager(processor, logger)
	svc := scan.NewService(mgr, store, cfg.Org.OrgID, logger, scan.WithBatches(batches))

	return &app{
		db:       db,
		cards:    cards,
		queue:    mgr,
		scan:     svc,
		crm:      dispatcher,
		exporter: export.NewService(cards, logger),
	}, nil
}

// close stops the worker first so no new contacts reach the CRM dispatcher.
func (a *app) close(logger *slog.Logger) {
	a.queue.Stop()
	a.scan.Close()
	a.crm.Shutdown(context.Background())
	a.db.Close()
	logger.Debug("app.closed")
}
