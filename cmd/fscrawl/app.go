package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fscrawl/fscrawl/internal/app/control"
	"github.com/fscrawl/fscrawl/internal/app/crawl"
	"github.com/fscrawl/fscrawl/internal/config"
	"github.com/fscrawl/fscrawl/internal/config/fileloader"
	domain "github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/bulk"
	"github.com/fscrawl/fscrawl/internal/infra/eventbus/kafka"
	"github.com/fscrawl/fscrawl/internal/infra/extract"
	"github.com/fscrawl/fscrawl/internal/infra/index/elastic"
	"github.com/fscrawl/fscrawl/internal/infra/source/local"
	"github.com/fscrawl/fscrawl/internal/infra/storage"
	fileStore "github.com/fscrawl/fscrawl/internal/infra/storage/checkpoint/file"
	memoryStore "github.com/fscrawl/fscrawl/internal/infra/storage/checkpoint/memory"
	pgStore "github.com/fscrawl/fscrawl/internal/infra/storage/checkpoint/postgres"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
	"github.com/fscrawl/fscrawl/pkg/common/otel"
)

const (
	serviceType = "fscrawl"

	kafkaConnectTimeout = 2 * time.Minute
)

// app holds the process wide dependencies shared by every command.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	tracer trace.Tracer
	meter  metric.MeterProvider

	store   domain.CheckpointStore
	service *control.Service

	closers []func(ctx context.Context) error
}

// appOptions selects how much of the process a command needs.
type appOptions struct {
	// connect starts the index clients and the event publisher. Commands
	// that only touch checkpoints leave it off.
	connect bool
	// telemetry exports traces and serves metrics.
	telemetry bool
	// jobs restricts the process to the named jobs. Empty means all.
	jobs []string
}

func newApp(ctx context.Context, v *viper.Viper, opts appOptions) (*app, error) {
	loader := fileloader.NewFileLoader(afero.NewOsFs(), v.GetString(flagConfig), fileloader.WithOverrides(v))
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	if err := selectJobs(cfg, opts.jobs); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.log = newLogger(cfg.Log)

	tcfg := otel.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Probability: cfg.Telemetry.SampleRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
		},
		InsecureExporter: true,
	}
	if opts.telemetry {
		tcfg.ExporterEndpoint = cfg.Telemetry.OTLPEndpoint
		tcfg.Prometheus = cfg.Telemetry.MetricsAddr != ""
	}
	providers, teardown, err := otel.InitTelemetry(a.log, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.onClose(func(ctx context.Context) error { teardown(ctx); return nil })
	a.tracer = providers.Tracer.Tracer(cfg.Telemetry.ServiceName)
	a.meter = providers.Meter

	if err := a.openStore(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.buildJobs(ctx, opts.connect); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

// selectJobs keeps only the named jobs of cfg.
func selectJobs(cfg *config.Config, names []string) error {
	if len(names) == 0 {
		return nil
	}
	selected := make([]config.JobConfig, 0, len(names))
	for _, name := range names {
		j, ok := cfg.Job(name)
		if !ok {
			return fmt.Errorf("%w: %s", control.ErrUnknownJob, name)
		}
		selected = append(selected, j)
	}
	cfg.Jobs = selected
	return nil
}

func newLogger(cfg config.LogConfig) *logger.Logger {
	var (
		w      io.Writer = os.Stdout
		events logger.Events
	)
	if cfg.File != "" {
		// Errors stay visible on the terminal when records go to a file.
		events.Error = func(_ context.Context, r logger.Record) {
			fmt.Fprintf(os.Stderr, "%s ERROR %s %v\n", r.Time.UTC().Format(time.RFC3339), r.Message, r.Attributes)
		}
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

	hostname, _ := os.Hostname()
	metadata := map[string]string{
		"hostname": hostname,
		"app":      serviceType,
	}
	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }
	return logger.NewWithMetadata(w, logger.ParseLevel(cfg.Level), serviceType, traceIDFn, events, metadata)
}

func (a *app) openStore(ctx context.Context) error {
	cp := a.cfg.Checkpoint
	switch cp.Backend {
	case config.BackendMemory:
		a.store = memoryStore.NewStore()
	case config.BackendPostgres:
		pool, err := storage.NewPool(ctx, cp.DSN)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { pool.Close(); return nil })
		if err := storage.Migrate(pool); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.store = pgStore.NewStore(pool, a.tracer)
	default:
		s, err := fileStore.NewStore(afero.NewOsFs(), cp.Dir, a.tracer)
		if err != nil {
			return err
		}
		a.store = s
	}
	a.log.Info(ctx, "checkpoint store ready", "backend", cp.Backend)
	return nil
}

func (a *app) buildJobs(ctx context.Context, connect bool) error {
	var (
		publisher   domain.EventPublisher
		crawlM      crawl.Metrics
		pubMetrics  kafka.PublisherMetrics
		err         error
		kafkaConfig = a.cfg.Events.Kafka
	)
	if crawlM, err = crawl.NewMetrics(a.meter); err != nil {
		return fmt.Errorf("failed to create crawl metrics: %w", err)
	}

	if connect && kafkaConfig.Enabled() {
		sarama.Logger = logger.NewStdLogger(a.log.With("component", "sarama"), logger.LevelDebug)
		if pubMetrics, err = kafka.NewMetrics(a.meter); err != nil {
			return fmt.Errorf("failed to create publisher metrics: %w", err)
		}
		p, err := kafka.ConnectWithRetry(ctx, &kafka.Config{
			Brokers:  kafkaConfig.Brokers,
			Topic:    kafkaConfig.Topic,
			ClientID: kafkaConfig.ClientID,
		}, kafkaConnectTimeout, a.log, pubMetrics, a.tracer)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return p.Close() })
		publisher = p
	}

	extractor := extract.New(a.tracer)
	jobs := make([]control.Job, 0, len(a.cfg.Jobs))
	for _, jc := range a.cfg.Jobs {
		job, err := jc.CrawlJob()
		if err != nil {
			return err
		}

		client, err := elastic.New(jc.ClientConfig(), a.log, a.tracer)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		bulkM, err := bulk.NewMetrics(a.meter, job.Name)
		if err != nil {
			return fmt.Errorf("job %s: failed to create bulk metrics: %w", job.Name, err)
		}
		if connect {
			if err := a.connectIndex(ctx, client, jc, job); err != nil {
				return err
			}
		}

		deps := crawl.MachineDeps{
			Store:              a.store,
			Source:             local.New(),
			Extractor:          extractor,
			Transport:          client,
			Publisher:          publisher,
			Bulk:               jc.BulkConfig(),
			Metrics:            crawlM,
			BulkMetrics:        bulkM,
			CheckpointInterval: a.cfg.Checkpoint.Interval,
			Logger:             a.log,
			Tracer:             a.tracer,
		}
		if job.LiveLookup {
			deps.Lookup = client
		}

		m, err := crawl.NewMachine(ctx, job, deps)
		if err != nil {
			return err
		}
		jobs = append(jobs, control.Job{
			Name:    job.Name,
			Crawler: m,
			Runner:  crawl.NewScheduler(m, crawl.DefaultSchedulerTick, a.log),
		})
		a.log.Info(ctx, "job configured",
			"job", job.Name,
			"root", job.Root,
			"index", job.Index,
			"bulk_size", jc.Elasticsearch.BulkSize,
			"byte_size", jc.Elasticsearch.ByteSize.String(),
		)
	}

	svc, err := control.NewService(jobs, a.log, a.tracer)
	if err != nil {
		return err
	}
	a.service = svc
	a.onClose(svc.Shutdown)
	return nil
}

// connectIndex waits for the cluster of a job and prepares its indices.
func (a *app) connectIndex(ctx context.Context, client *elastic.Client, jc config.JobConfig, job *domain.Job) error {
	if err := client.RegisterMetrics(a.meter); err != nil {
		return fmt.Errorf("job %s: failed to register index metrics: %w", job.Name, err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	if job.Pipeline != "" {
		if err := client.EnsurePipeline(ctx, job.Pipeline); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}
	if *jc.Elasticsearch.PushTemplates {
		if err := client.PushTemplates(ctx, job.Index, job.FolderIndex); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}
	return nil
}

func (a *app) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
