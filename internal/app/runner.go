// Package app wires the download pipeline together: it turns run parameters
// into requests, drives the worker pool, persists the outcome and reports it.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/config"
	"github.com/JakeFAU/uwyo-soundings/internal/metrics"
	"github.com/JakeFAU/uwyo-soundings/internal/persist"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
	"github.com/JakeFAU/uwyo-soundings/internal/storage/postgres"
)

// NotificationKind labels run summary messages.
const NotificationKind = "run_summary"

// Downloader runs requests through the fetch and extract pipeline.
type Downloader interface {
	Run(ctx context.Context, runID uuid.UUID, requests []sounding.Request) (sounding.Collection, error)
}

// RunRecorder stores run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec postgres.RunRecord) error
}

// Flusher pushes buffered progress events to their sinks.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Params are the inputs of one download run.
type Params struct {
	StationID       string
	BeginDate       time.Time
	EndDate         time.Time
	Hour            string
	WriteASCII      bool
	WriteArchive    bool
	MetricsTextfile string
}

const stationRequired = "a station id is required; run `soundings stations` to list stations"

// ParamsFromConfig derives Params from cfg. Missing dates default to the UTC
// day of now. A missing station is rejected here so callers can fail before
// opening any backend.
func ParamsFromConfig(cfg config.Config, now time.Time) (Params, error) {
	if strings.TrimSpace(cfg.StationID) == "" {
		return Params{}, sounding.Configurationf(stationRequired)
	}
	begin, end, err := cfg.DateRange(now)
	if err != nil {
		return Params{}, err
	}
	return Params{
		StationID:       cfg.StationID,
		BeginDate:       begin,
		EndDate:         end,
		Hour:            cfg.Hour,
		WriteASCII:      cfg.WriteASCII,
		WriteArchive:    cfg.WriteArchive,
		MetricsTextfile: cfg.Metrics.Textfile,
	}, nil
}

// Report describes a finished run.
type Report struct {
	RunID          uuid.UUID
	Collection     sounding.Collection
	Summary        sounding.Summary
	ArtifactURIs   []string
	ArchiveURI     string
	NotificationID string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Notification is the payload published after each run.
type Notification struct {
	RunID      string   `json:"run_id"`
	StationID  string   `json:"station_id"`
	BeginDate  string   `json:"begin_date"`
	EndDate    string   `json:"end_date"`
	Hour       string   `json:"hour"`
	Total      int      `json:"total"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	Failures   []string `json:"failures,omitempty"`
	ArchiveURI string   `json:"archive_uri,omitempty"`
}

// Runner executes download runs.
type Runner struct {
	downloader Downloader
	persister  *persist.Persister
	publisher  sounding.Publisher
	runs       RunRecorder
	flusher    Flusher
	clock      clockwork.Clock
	logger     *zap.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithPublisher enables run notifications.
func WithPublisher(p sounding.Publisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

// WithRunRecorder enables run history.
func WithRunRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) { r.runs = rec }
}

// WithFlusher flushes progress events before metrics are exported.
func WithFlusher(f Flusher) RunnerOption {
	return func(r *Runner) { r.flusher = f }
}

// WithClock overrides the wall clock.
func WithClock(c clockwork.Clock) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner builds a Runner around a downloader and a persister.
func NewRunner(d Downloader, p *persist.Persister, opts ...RunnerOption) (*Runner, error) {
	if d == nil || p == nil {
		return nil, sounding.Configurationf("runner requires a downloader and a persister")
	}
	r := &Runner{
		downloader: d,
		persister:  p,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run downloads every sounding described by params and persists the outcome.
// Configuration and persistence failures are fatal; individual download
// failures are reported in the summary unless the pool aborts the run.
func (r *Runner) Run(ctx context.Context, params Params) (Report, error) {
	station := strings.TrimSpace(params.StationID)
	if station == "" {
		return Report{}, sounding.Configurationf(stationRequired)
	}
	requests, err := sounding.BuildRequests(station, params.BeginDate, params.EndDate, params.Hour, r.logger)
	if err != nil {
		return Report{}, err
	}

	report := Report{RunID: uuid.New(), StartedAt: r.clock.Now().UTC()}
	r.logger.Info("run started",
		zap.String("run_id", report.RunID.String()),
		zap.String("station", station),
		zap.Int("requests", len(requests)),
	)

	col, err := r.downloader.Run(ctx, report.RunID, requests)
	report.Collection = col
	report.Summary = col.Summary()
	if err != nil {
		report.FinishedAt = r.clock.Now().UTC()
		return report, fmt.Errorf("download run: %w", err)
	}

	if params.WriteASCII {
		uris, err := r.persister.WriteArtifacts(ctx, col)
		report.ArtifactURIs = uris
		if err != nil {
			return report, err
		}
	}
	if params.WriteArchive {
		uri, err := r.persister.WriteArchive(ctx, col)
		if err != nil {
			return report, err
		}
		report.ArchiveURI = uri
	}
	report.FinishedAt = r.clock.Now().UTC()

	r.logSummary(report)
	r.notify(ctx, &report, requests)
	r.record(ctx, report, requests)
	r.exportMetrics(ctx, params.MetricsTextfile)
	return report, nil
}

func (r *Runner) logSummary(report Report) {
	s := report.Summary
	for _, f := range s.Failures {
		r.logger.Warn("sounding failed",
			zap.String("station", f.Request.StationID),
			zap.String("date", f.Request.Date.Format("2006-01-02")),
			zap.String("hour", string(f.Request.Hour)),
			zap.Error(f.Err),
		)
	}
	r.logger.Info("run summary",
		zap.String("run_id", report.RunID.String()),
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.String("archive", report.ArchiveURI),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
}

func (r *Runner) notify(ctx context.Context, report *Report, requests []sounding.Request) {
	if r.publisher == nil {
		return
	}
	msg := newNotification(*report, requests)
	id, err := r.publisher.Publish(ctx, NotificationKind, msg)
	if err != nil {
		r.logger.Warn("run notification failed", zap.String("run_id", msg.RunID), zap.Error(err))
		return
	}
	report.NotificationID = id
}

func (r *Runner) record(ctx context.Context, report Report, requests []sounding.Request) {
	if r.runs == nil {
		return
	}
	first, last := requests[0], requests[len(requests)-1]
	rec := postgres.RunRecord{
		ID:         report.RunID,
		StationID:  first.StationID,
		BeginDate:  first.Date,
		EndDate:    last.Date,
		Hour:       string(first.Hour),
		Total:      report.Summary.Total,
		Succeeded:  report.Summary.Succeeded,
		Failed:     report.Summary.Failed,
		ArchiveURI: report.ArchiveURI,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	if err := r.runs.RecordRun(ctx, rec); err != nil {
		r.logger.Warn("run history not recorded", zap.String("run_id", report.RunID.String()), zap.Error(err))
	}
}

func (r *Runner) exportMetrics(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if r.flusher != nil {
		if err := r.flusher.Flush(ctx); err != nil {
			r.logger.Warn("progress flush failed", zap.Error(err))
		}
	}
	if err := metrics.WriteTextfile(path, nil); err != nil {
		r.logger.Warn("metrics textfile export failed", zap.String("path", path), zap.Error(err))
	}
}

func newNotification(report Report, requests []sounding.Request) Notification {
	first, last := requests[0], requests[len(requests)-1]
	n := Notification{
		RunID:      report.RunID.String(),
		StationID:  first.StationID,
		BeginDate:  first.Date.Format("2006-01-02"),
		EndDate:    last.Date.Format("2006-01-02"),
		Hour:       string(first.Hour),
		Total:      report.Summary.Total,
		Succeeded:  report.Summary.Succeeded,
		Failed:     report.Summary.Failed,
		ArchiveURI: report.ArchiveURI,
	}
	for _, f := range report.Summary.Failures {
		n.Failures = append(n.Failures, f.Request.Filename())
	}
	return n
}
