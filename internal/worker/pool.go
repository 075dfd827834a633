// Package worker runs sounding requests through a bounded pool of fetch and
// extract workers and collects the outcomes in request order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/uwyo-soundings/internal/progress"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// Failure policies.
const (
	// PolicyIsolate records a failed request in its slot and keeps going.
	PolicyIsolate = "isolate"
	// PolicyAbort cancels outstanding work on the first transport failure.
	PolicyAbort = "abort"
)

const tracerName = "github.com/JakeFAU/uwyo-soundings/internal/worker"

// ErrSkipped fills slots that were never attempted because the run aborted.
var ErrSkipped = errors.New("request skipped after abort")

// Config controls Pool behavior.
type Config struct {
	// Concurrency is the number of workers; it must be at least 1.
	Concurrency int
	// RequestTimeout bounds each fetch. Zero leaves fetches unbounded.
	RequestTimeout time.Duration
	// FailurePolicy is PolicyIsolate (default) or PolicyAbort.
	FailurePolicy string
}

// Pool executes Fetcher then Extractor for each request.
type Pool struct {
	cfg       Config
	fetcher   sounding.Fetcher
	extractor sounding.Extractor
	endpoint  sounding.Endpoint
	emitter   progress.Emitter
	clock     clockwork.Clock
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option customizes a Pool.
type Option func(*Pool)

// WithEmitter routes progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Pool) {
		if e != nil {
			p.emitter = e
		}
	}
}

// WithClock overrides the clock used for timestamps and latencies.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pool) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pool) {
		if tp != nil {
			p.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New validates cfg and returns a Pool.
func New(
	cfg Config,
	fetcher sounding.Fetcher,
	extractor sounding.Extractor,
	endpoint sounding.Endpoint,
	opts ...Option,
) (*Pool, error) {
	if cfg.Concurrency < 1 {
		return nil, sounding.Configurationf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicyIsolate
	}
	if cfg.FailurePolicy != PolicyIsolate && cfg.FailurePolicy != PolicyAbort {
		return nil, sounding.Configurationf("unknown failure policy %q", cfg.FailurePolicy)
	}
	if fetcher == nil || extractor == nil {
		return nil, sounding.Configurationf("pool requires a fetcher and an extractor")
	}
	p := &Pool{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		endpoint:  endpoint,
		emitter:   progress.Discard{},
		clock:     clockwork.NewRealClock(),
		tracer:    otel.Tracer(tracerName),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run processes requests and returns one Item per request in input order.
// Under PolicyIsolate the error is non-nil only when ctx ends first. Under
// PolicyAbort the first failure is returned alongside the partial collection.
func (p *Pool) Run(ctx context.Context, runID uuid.UUID, requests []sounding.Request) (sounding.Collection, error) {
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	items := make([]sounding.Item, len(requests))
	for i, req := range requests {
		items[i].Request = req
	}
	started := p.clock.Now()
	p.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart})

	g, gctx := errgroup.WithContext(ctx)
	indices := make(chan int)
	g.Go(func() error {
		defer close(indices)
		for i := range requests {
			select {
			case indices <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	workers := min(p.cfg.Concurrency, max(len(requests), 1))
	for range workers {
		g.Go(func() error {
			for i := range indices {
				items[i] = p.process(gctx, runID, requests[i])
				if items[i].Err != nil && p.cfg.FailurePolicy == PolicyAbort {
					return fmt.Errorf("abort run on %s: %w", requests[i], items[i].Err)
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	for i := range items {
		if items[i].Result == nil && items[i].Err == nil {
			items[i].Err = ErrSkipped
		}
	}
	collection := sounding.Collection{Items: items}
	summary := collection.Summary()
	p.emit(progress.Event{
		RunID:     runID,
		Stage:     progress.StageRunDone,
		Dur:       p.clock.Since(started),
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
	})

	if runErr != nil {
		return collection, runErr
	}
	if err := ctx.Err(); err != nil {
		return collection, fmt.Errorf("run interrupted: %w", err)
	}
	return collection, nil
}

func (p *Pool) process(ctx context.Context, runID uuid.UUID, req sounding.Request) sounding.Item {
	item := sounding.Item{Request: req}
	ctx, span := p.tracer.Start(ctx, "sounding.fetch", trace.WithAttributes(
		attribute.String("sounding.station", req.StationID),
		attribute.String("sounding.date", req.Date.Format("2006-01-02")),
		attribute.String("sounding.hour", string(req.Hour)),
	))
	defer span.End()

	url, err := p.endpoint.SoundingURL(req)
	if err != nil {
		item.Err = err
		p.fail(span, runID, req, 0, err)
		return item
	}
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	start := p.clock.Now()
	resp, err := p.fetcher.Fetch(ctx, sounding.FetchRequest{URL: url})
	dur := p.clock.Since(start)
	if err != nil {
		item.Err = err
		p.fail(span, runID, req, dur, err)
		return item
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	text, err := p.extractor.Extract(resp.Body)
	if err != nil {
		p.logger.Warn("sounding page could not be parsed, keeping empty text",
			zap.String("station", req.StationID),
			zap.String("date", req.Date.Format("2006-01-02")),
			zap.Error(err),
		)
		text = ""
	}
	item.Result = &sounding.Result{Filename: req.Filename(), Data: text}

	p.logger.Info("sounding downloaded",
		zap.String("station", req.StationID),
		zap.String("date", req.Date.Format("02-Jan-2006")),
		zap.String("hour", string(req.Hour)),
	)
	p.emit(progress.Event{
		RunID:     runID,
		Stage:     progress.StageFetchDone,
		StationID: req.StationID,
		Date:      req.Date,
		Hour:      string(req.Hour),
		Bytes:     int64(len(resp.Body)),
		Dur:       dur,
	})
	return item
}

func (p *Pool) fail(span trace.Span, runID uuid.UUID, req sounding.Request, dur time.Duration, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.logger.Warn("sounding fetch failed",
		zap.String("station", req.StationID),
		zap.String("date", req.Date.Format("2006-01-02")),
		zap.String("hour", string(req.Hour)),
		zap.Error(err),
	)
	p.emit(progress.Event{
		RunID:     runID,
		Stage:     progress.StageFetchError,
		StationID: req.StationID,
		Date:      req.Date,
		Hour:      string(req.Hour),
		Dur:       dur,
		Note:      err.Error(),
	})
}

func (p *Pool) emit(evt progress.Event) {
	evt.TS = p.clock.Now().UTC()
	p.emitter.Emit(evt)
}
