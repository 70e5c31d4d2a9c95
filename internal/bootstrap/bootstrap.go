package bootstrap

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/core/usecase"
	"github.com/kirillkom/docflow/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/docflow/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docflow/internal/infrastructure/paperless"
	"github.com/kirillkom/docflow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docflow/internal/infrastructure/repository/sqlstore"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
	"github.com/kirillkom/docflow/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *zap.SugaredLogger

	DB       *sqlstore.DB
	Bus      *nats.Bus
	Registry *usecase.WorkflowRegistry
	Control  *usecase.Controller
	Scanner  *usecase.Scanner
	Metrics  *metrics.WorkerMetrics

	closeFn func()
}

// New opens the store, seeds built-in workflows and wires every component. The
// scan loop is built but not started.
func New(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var bus *nats.Bus
	if cfg.NATSURL != "" {
		bus, err = nats.Connect(cfg.NATSURL, nats.Options{
			EventsSubject:      cfg.NATSEventsSubject,
			TriggerSubject:     cfg.NATSTriggerSubject,
			ResilienceExecutor: resilience.NewExecutor(resilience.NATSPolicy(), logger),
			Logger:             logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "connect nats")
		}
	}

	paperlessExec := resilience.NewExecutor(resilience.PaperlessPolicy(), logger)
	store := paperless.New(paperless.Config{
		BaseURL:  cfg.PaperlessURL,
		Token:    cfg.PaperlessToken,
		PageSize: cfg.PaperlessPageSize,
		Timeout:  cfg.PaperlessTimeout,
	}, paperlessExec, logger)

	extractor := ollama.NewExtractor(ollama.New(ollama.Config{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaModel,
		Timeout: cfg.OllamaTimeout,
	}, resilience.NewExecutor(resilience.OllamaPolicy(cfg.OllamaRateLimit), logger), logger))

	workflowRepo := sqlstore.NewWorkflowRepository(db)
	backoffRepo := sqlstore.NewBackoffRepository(db)
	records := sqlstore.NewProcessingRepository(db)
	skipped := sqlstore.NewSkippedRepository(db)
	state := sqlstore.NewWorkerStateRepository(db)

	registry := usecase.NewWorkflowRegistry(workflowRepo, logger)
	if _, err := registry.SeedBuiltins(ctx); err != nil {
		logger.Warnw("seed built-in workflows failed", "error", err)
	}

	backoff := usecase.NewBackoffQueue(backoffRepo,
		usecase.WithBackoffSchedule(cfg.WorkerBackoff),
		usecase.WithMaxRetries(cfg.WorkerMaxRetries),
	)
	resolver := usecase.NewEntityResolver(store, cfg.WorkerLabelTTL, cfg.WorkerFieldTTL, logger)
	workerMetrics := metrics.NewWorkerMetrics("worker")

	var publishers []ports.EventPublisher
	var trigger ports.ScanTrigger
	if bus != nil {
		publishers = append(publishers, bus)
		trigger = bus
	}
	reporter := usecase.NewEventReporter(records, logger, publishers...)

	executor := usecase.NewExecuteWorkflowUseCase(usecase.ExecuteDeps{
		Store:     store,
		Extractor: extractor,
		PDFText:   pdftext.NewExtractor(0),
		Resolver:  resolver,
		Backoff:   backoff,
		Skipped:   skipped,
		Reporter:  reporter,
		Observer:  workerMetrics,
	}, cfg.WorkerRetryStrategy, logger)

	scanner := usecase.NewScanner(usecase.ScanDeps{
		Store:    store,
		Registry: registry,
		Executor: executor,
		Resolver: resolver,
		Backoff:  backoff,
		Skipped:  skipped,
		State:    state,
		Reporter: reporter,
		Trigger:  trigger,
		Observer: workerMetrics,
	}, usecase.ScannerConfig{
		Interval:            cfg.WorkerScanInterval,
		TriggerPollInterval: cfg.WorkerTriggerPoll,
		LeaseTTL:            cfg.WorkerLeaseTTL,
	}, logger)

	control := usecase.NewController(usecase.ControlDeps{
		Store:    store,
		Registry: registry,
		Executor: executor,
		Resolver: resolver,
		Backoff:  backoff,
		Skipped:  skipped,
		Records:  records,
		State:    state,
		Trigger:  trigger,
	}, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		DB:       db,
		Bus:      bus,
		Registry: registry,
		Control:  control,
		Scanner:  scanner,
		Metrics:  workerMetrics,

		closeFn: func() {
			if bus != nil {
				bus.Close()
			}
			_ = db.Close()
		},
	}, nil
}

// TriggerOptions returns the configured defaults for synchronous scan requests.
func (a *App) TriggerOptions() ports.TriggerOptions {
	return ports.TriggerOptions{
		Timeout: a.Config.TriggerTimeout,
		MinWait: a.Config.TriggerMinWait,
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*sqlstore.DB, error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := sqlstore.OpenPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres store")
		}
		return db, nil
	default:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "create data directory %s", dir)
			}
		}
		db, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite store")
		}
		return db, nil
	}
}
