package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

func sampleRun() RunRecord {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return RunRecord{
		ID:         uuid.MustParse("0190d0a6-3c1e-7a6b-9b7e-3f6f0b1d2c3a"),
		StationID:  "YPDN",
		BeginDate:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
		Hour:       "00",
		Total:      3,
		Succeeded:  2,
		Failed:     1,
		ArchiveURI: "file:///tmp/dwl_data.pkl",
		StartedAt:  started,
		FinishedAt: started.Add(4 * time.Second),
	}
}

func TestRunStoreRecordRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)

	rec := sampleRun()
	mock.ExpectExec("INSERT INTO sounding_runs").
		WithArgs(
			rec.ID, rec.StationID, rec.BeginDate, rec.EndDate, rec.Hour,
			rec.Total, rec.Succeeded, rec.Failed, rec.ArchiveURI, rec.StartedAt, rec.FinishedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreRecordRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)
	err = store.RecordRun(context.Background(), RunRecord{})
	require.ErrorIs(t, err, sounding.ErrConfiguration)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "sounding_runs")
	require.NoError(t, err)

	rec := sampleRun()
	rows := pgxmock.NewRows([]string{
		"id", "station_id", "begin_date", "end_date", "hour",
		"total", "succeeded", "failed", "archive_uri", "started_at", "finished_at",
	}).AddRow(
		rec.ID, rec.StationID, rec.BeginDate, rec.EndDate, rec.Hour,
		rec.Total, rec.Succeeded, rec.Failed, rec.ArchiveURI, rec.StartedAt, rec.FinishedAt,
	)
	mock.ExpectQuery("SELECT id, station_id").
		WithArgs("YPDN", 50).
		WillReturnRows(rows)

	runs, err := store.ListRuns(context.Background(), "YPDN", 0)
	require.NoError(t, err)
	require.Equal(t, []RunRecord{rec}, runs)
	require.NoError(t, mock.ExpectationsWereMet())
}
