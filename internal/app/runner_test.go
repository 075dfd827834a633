package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/uwyo-soundings/internal/extract"
	collyfetcher "github.com/JakeFAU/uwyo-soundings/internal/fetcher/colly"
	"github.com/JakeFAU/uwyo-soundings/internal/persist"
	"github.com/JakeFAU/uwyo-soundings/internal/publisher/memory"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
	"github.com/JakeFAU/uwyo-soundings/internal/storage/local"
	"github.com/JakeFAU/uwyo-soundings/internal/storage/postgres"
	"github.com/JakeFAU/uwyo-soundings/internal/worker"
)

// wyomingServer serves a text-list page per request; FROM values listed in
// failing get a 500.
func wyomingServer(t *testing.T, failing ...string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	fail := make(map[string]bool, len(failing))
	for _, f := range failing {
		fail[f] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		if fail[q.Get("FROM")] {
			http.Error(w, "Can't get", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "<html><title>%s Sounding</title><body>\n<h2>%s Observations at %sZ</h2>\n<pre>\n-----\n   PRES   HGHT\n 1000.0    100\n</pre></body></html>",
			q.Get("STNM"), q.Get("STNM"), q.Get("FROM"))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

type fixture struct {
	runner    *Runner
	outputDir string
	publisher *memory.Publisher
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T, baseURL string, cfg worker.Config, opts ...RunnerOption) fixture {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	endpoint := sounding.NewEndpoint(baseURL)
	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})
	pool, err := worker.New(cfg, fetcher, extract.New(extract.DefaultHeaderLines), endpoint, worker.WithLogger(logger))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "soundings")
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	p, err := persist.New(store, "", logger)
	require.NoError(t, err)

	pub := memory.New()
	all := append([]RunnerOption{WithLogger(logger), WithPublisher(pub)}, opts...)
	runner, err := NewRunner(pool, p, all...)
	require.NoError(t, err)
	return fixture{runner: runner, outputDir: dir, publisher: pub, logs: logs}
}

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	srv, _ := wyomingServer(t)
	fx := newFixture(t, srv.URL, worker.Config{Concurrency: 2})

	report, err := fx.runner.Run(context.Background(), Params{
		StationID:    "YPDN",
		BeginDate:    day(1),
		EndDate:      day(3),
		Hour:         "00",
		WriteASCII:   true,
		WriteArchive: true,
	})
	require.NoError(t, err)
	require.Equal(t, 3, report.Summary.Total)
	require.Equal(t, 3, report.Summary.Succeeded)

	want := []string{"YPDN_20200101_00.txt", "YPDN_20200102_00.txt", "YPDN_20200103_00.txt"}
	for _, name := range want {
		data, err := os.ReadFile(filepath.Join(fx.outputDir, name))
		require.NoError(t, err)
		assert.Contains(t, string(data), "1000.0")
	}

	f, err := os.Open(filepath.Join(fx.outputDir, "dwl_data.pkl"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	archive, err := persist.ReadArchive(f)
	require.NoError(t, err)
	require.Len(t, archive.Entries, 3)
	for i, e := range archive.Entries {
		assert.Equal(t, want[i], e.Filename)
		assert.Empty(t, e.Error)
	}

	assert.Equal(t, 1, fx.logs.FilterMessage("run summary").Len())
	msgs := fx.publisher.Messages()
	require.Len(t, msgs, 1)
	var n Notification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &n))
	assert.Equal(t, "YPDN", n.StationID)
	assert.Equal(t, "2020-01-03", n.EndDate)
	assert.Equal(t, 3, n.Succeeded)
	assert.Equal(t, "memory-1", report.NotificationID)
}

func TestRunIsolatesTransportFailure(t *testing.T) {
	t.Parallel()

	srv, _ := wyomingServer(t, "0200")
	fx := newFixture(t, srv.URL, worker.Config{Concurrency: 1})

	report, err := fx.runner.Run(context.Background(), Params{
		StationID:    "YPDN",
		BeginDate:    day(1),
		EndDate:      day(3),
		Hour:         "00",
		WriteArchive: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Summary.Succeeded)
	require.Equal(t, 1, report.Summary.Failed)
	require.ErrorIs(t, report.Collection.Items[1].Err, sounding.ErrTransport)

	data, err := os.ReadFile(filepath.Join(fx.outputDir, "dwl_data.pkl"))
	require.NoError(t, err)
	var archive persist.Archive
	require.NoError(t, json.Unmarshal(data, &archive))
	require.Len(t, archive.Entries, 3)
	assert.NotEmpty(t, archive.Entries[1].Error)
	assert.NoFileExists(t, filepath.Join(fx.outputDir, "YPDN_20200101_00.txt"))

	assert.Equal(t, 1, fx.logs.FilterMessage("sounding failed").Len())
}

func TestRunAbortPolicyWritesNothing(t *testing.T) {
	t.Parallel()

	srv, _ := wyomingServer(t, "0112")
	fx := newFixture(t, srv.URL, worker.Config{Concurrency: 1, FailurePolicy: worker.PolicyAbort})

	report, err := fx.runner.Run(context.Background(), Params{
		StationID:    "YPDN",
		BeginDate:    day(1),
		EndDate:      day(2),
		Hour:         "12",
		WriteArchive: true,
	})
	require.ErrorIs(t, err, sounding.ErrTransport)
	require.Equal(t, 2, report.Collection.Len())
	assert.NoFileExists(t, filepath.Join(fx.outputDir, "dwl_data.pkl"))
	assert.Empty(t, fx.publisher.Messages())
}

func TestRunRequiresStation(t *testing.T) {
	t.Parallel()

	srv, hits := wyomingServer(t)
	fx := newFixture(t, srv.URL, worker.Config{Concurrency: 1})

	_, err := fx.runner.Run(context.Background(), Params{StationID: "  ", BeginDate: day(1), EndDate: day(1)})
	require.ErrorIs(t, err, sounding.ErrConfiguration)

	_, err = fx.runner.Run(context.Background(), Params{StationID: "YPDN", BeginDate: day(3), EndDate: day(1)})
	require.ErrorIs(t, err, sounding.ErrConfiguration)
	require.Zero(t, hits.Load())
}

func TestRunNormalizesInvalidHour(t *testing.T) {
	t.Parallel()

	srv, _ := wyomingServer(t)
	fx := newFixture(t, srv.URL, worker.Config{Concurrency: 1})

	report, err := fx.runner.Run(context.Background(), Params{StationID: "YPDN", BeginDate: day(1), EndDate: day(1), Hour: "06"})
	require.NoError(t, err)
	require.Equal(t, sounding.Hour00, report.Collection.Items[0].Request.Hour)
	require.Equal(t, 1, fx.logs.FilterLevelExact(zap.WarnLevel).Len())
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordRun(ctx context.Context, rec postgres.RunRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic not found")
}

func TestRunRecordsHistoryAndToleratesNotifyFailure(t *testing.T) {
	t.Parallel()

	srv, _ := wyomingServer(t, "0200")
	rec := &mockRecorder{}
	rec.On("RecordRun", mock.Anything, mock.MatchedBy(func(r postgres.RunRecord) bool {
		return r.StationID == "YPDN" && r.Total == 2 && r.Failed == 1 && r.ID != uuid.Nil &&
			r.BeginDate.Equal(day(1)) && r.EndDate.Equal(day(2)) && r.Hour == "00"
	})).Return(errors.New("db down")).Once()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fx := newFixture(t, srv.URL, worker.Config{Concurrency: 2},
		WithRunRecorder(rec), WithPublisher(failingPublisher{}), WithClock(clock))

	report, err := fx.runner.Run(context.Background(), Params{StationID: "YPDN", BeginDate: day(1), EndDate: day(2), Hour: "00"})
	require.NoError(t, err)
	require.Empty(t, report.NotificationID)
	require.True(t, clock.Now().Equal(report.StartedAt))
	rec.AssertExpectations(t)
	assert.Equal(t, 1, fx.logs.FilterMessage("run notification failed").Len())
	assert.Equal(t, 1, fx.logs.FilterMessage("run history not recorded").Len())
}

type countingFlusher struct {
	calls atomic.Int64
}

func (c *countingFlusher) Flush(context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestRunExportsMetricsTextfile(t *testing.T) {
	t.Parallel()

	srv, _ := wyomingServer(t)
	flusher := &countingFlusher{}
	fx := newFixture(t, srv.URL, worker.Config{Concurrency: 1}, WithFlusher(flusher))

	path := filepath.Join(t.TempDir(), "soundings.prom")
	_, err := fx.runner.Run(context.Background(), Params{
		StationID:       "YPDN",
		BeginDate:       day(1),
		EndDate:         day(1),
		WriteASCII:      true,
		MetricsTextfile: path,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, flusher.calls.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "soundings_artifacts_written_total")
}

func TestNewRunnerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(nil, nil)
	require.ErrorIs(t, err, sounding.ErrConfiguration)
}
