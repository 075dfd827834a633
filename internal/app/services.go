package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/catalog"
	"github.com/JakeFAU/uwyo-soundings/internal/config"
	"github.com/JakeFAU/uwyo-soundings/internal/extract"
	collyfetcher "github.com/JakeFAU/uwyo-soundings/internal/fetcher/colly"
	"github.com/JakeFAU/uwyo-soundings/internal/persist"
	"github.com/JakeFAU/uwyo-soundings/internal/policy/ratelimit"
	"github.com/JakeFAU/uwyo-soundings/internal/progress"
	"github.com/JakeFAU/uwyo-soundings/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/uwyo-soundings/internal/publisher/pubsub"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
	"github.com/JakeFAU/uwyo-soundings/internal/storage/gcs"
	"github.com/JakeFAU/uwyo-soundings/internal/storage/local"
	"github.com/JakeFAU/uwyo-soundings/internal/storage/postgres"
	"github.com/JakeFAU/uwyo-soundings/internal/worker"
)

// Services holds the long-lived components built from a Config. Optional
// backends (Publisher, Stations, Runs) are nil when not configured.
type Services struct {
	Config    config.Config
	Logger    *zap.Logger
	Endpoint  sounding.Endpoint
	Fetcher   *collyfetcher.Fetcher
	Extractor *extract.Text
	Pool      *worker.Pool
	Store     sounding.BlobStore
	Persister *persist.Persister
	Catalog   *catalog.Catalog
	Hub       *progress.Hub
	Publisher sounding.Publisher
	Stations  *postgres.StationStore
	Runs      *postgres.RunStore

	closers []func(context.Context) error
}

// NewServices builds every component cfg asks for. Progress collectors are
// registered on reg.
func NewServices(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Services{
		Config:    cfg,
		Logger:    logger,
		Endpoint:  sounding.NewEndpoint(cfg.HTTP.BaseURL),
		Extractor: extract.New(extract.DefaultHeaderLines),
	}

	s.Fetcher = NewFetcher(cfg, logger)
	s.Catalog = catalog.New(s.Fetcher, s.Endpoint, cfg.Concurrency, logger)

	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, err
	}
	s.Hub = progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)
	s.closers = append(s.closers, s.Hub.Close)

	s.Pool, err = worker.New(worker.Config{
		Concurrency:    cfg.Concurrency,
		RequestTimeout: cfg.RequestTimeout(),
		FailurePolicy:  cfg.FailurePolicy,
	}, s.Fetcher, s.Extractor, s.Endpoint, worker.WithEmitter(s.Hub), worker.WithLogger(logger))
	if err != nil {
		return nil, s.abort(ctx, err)
	}

	if s.Store, err = s.openStore(ctx); err != nil {
		return nil, s.abort(ctx, err)
	}
	if s.Persister, err = persist.New(s.Store, cfg.ArchiveName, logger); err != nil {
		return nil, s.abort(ctx, err)
	}
	if err := s.openPublisher(ctx); err != nil {
		return nil, s.abort(ctx, err)
	}
	if err := s.openDatabase(ctx); err != nil {
		return nil, s.abort(ctx, err)
	}
	return s, nil
}

// NewFetcher builds the rate-limited HTTP fetcher shared by downloads and the
// station catalog.
func NewFetcher(cfg config.Config, logger *zap.Logger) *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
		}),
		Logger: logger,
	})
}

// Runner returns a Runner wired to the configured backends.
func (s *Services) Runner() (*Runner, error) {
	opts := []RunnerOption{WithLogger(s.Logger), WithFlusher(s.Hub)}
	if s.Publisher != nil {
		opts = append(opts, WithPublisher(s.Publisher))
	}
	if s.Runs != nil {
		opts = append(opts, WithRunRecorder(s.Runs))
	}
	return NewRunner(s.Pool, s.Persister, opts...)
}

// StationSource lists stations, optionally filtered by region name.
type StationSource interface {
	List(ctx context.Context, region string) ([]catalog.Station, error)
}

// StationSource serves station lookups from the database when one is
// configured and from the live regional index pages otherwise.
func (s *Services) StationSource() StationSource {
	if s.Stations != nil {
		return s.Stations
	}
	return liveStations{catalog: s.Catalog}
}

type liveStations struct {
	catalog *catalog.Catalog
}

func (l liveStations) List(ctx context.Context, region string) ([]catalog.Station, error) {
	byRegion, err := l.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	if region != "" {
		return byRegion[region], nil
	}
	return catalog.Flatten(byRegion), nil
}

// Close releases every backend in reverse order of creation.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Services) abort(ctx context.Context, err error) error {
	if closeErr := s.Close(ctx); closeErr != nil {
		s.Logger.Warn("cleanup after failed start", zap.Error(closeErr))
	}
	return err
}

func (s *Services) openStore(ctx context.Context) (sounding.BlobStore, error) {
	switch s.Config.Storage.Backend {
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create storage client: %w", sounding.ErrIO, err)
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		s.Logger.Info("using gcs storage", zap.String("bucket", s.Config.Storage.GCSBucket))
		return gcs.New(client, gcs.Config{Bucket: s.Config.Storage.GCSBucket, Prefix: s.Config.Storage.Prefix})
	default:
		return local.New(local.Config{BaseDir: s.Config.OutputDir})
	}
}

func (s *Services) openPublisher(ctx context.Context) error {
	cfg := s.Config.PubSub
	if cfg.TopicName == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(cfg.TopicName))
	s.closers = append(s.closers, func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	s.Publisher = pub
	s.Logger.Info("run notifications enabled", zap.String("topic", cfg.TopicName))
	return nil
}

func (s *Services) openDatabase(ctx context.Context) error {
	cfg := s.Config.DB
	if cfg.DSN == "" {
		return nil
	}
	pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func(context.Context) error {
		pool.Close()
		return nil
	})
	if s.Stations, err = postgres.NewStationStore(pool, cfg.Table); err != nil {
		return err
	}
	if s.Runs, err = postgres.NewRunStore(pool, cfg.RunsTable); err != nil {
		return err
	}
	return nil
}
