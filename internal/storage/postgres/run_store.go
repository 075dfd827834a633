package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// RunRecord is one row of download history.
type RunRecord struct {
	ID         uuid.UUID `json:"id"`
	StationID  string    `json:"station_id"`
	BeginDate  time.Time `json:"begin_date"`
	EndDate    time.Time `json:"end_date"`
	Hour       string    `json:"hour"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunStore appends run summaries to a history table.
type RunStore struct {
	db    DB
	table string
}

// NewRunStore wraps db. An empty table selects "sounding_runs".
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, sounding.Configurationf("run store requires a pool")
	}
	table, err := checkTable(table, "sounding_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: table}, nil
}

// RecordRun inserts rec.
func (s *RunStore) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == uuid.Nil {
		return sounding.Configurationf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, station_id, begin_date, end_date, hour,
	total, succeeded, failed, archive_uri, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, s.table)

	_, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.StationID,
		rec.BeginDate,
		rec.EndDate,
		rec.Hour,
		rec.Total,
		rec.Succeeded,
		rec.Failed,
		rec.ArchiveURI,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert run: %w", sounding.ErrIO, err)
	}
	return nil
}

// ListRuns returns the most recent runs first, optionally filtered by station.
func (s *RunStore) ListRuns(ctx context.Context, stationID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, station_id, begin_date, end_date, hour,
	total, succeeded, failed, archive_uri, started_at, finished_at
FROM %s
WHERE ($1 = '' OR station_id = $1)
ORDER BY started_at DESC
LIMIT $2`, s.table)

	rows, err := s.db.Query(ctx, query, stationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %w", sounding.ErrIO, err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(
			&r.ID,
			&r.StationID,
			&r.BeginDate,
			&r.EndDate,
			&r.Hour,
			&r.Total,
			&r.Succeeded,
			&r.Failed,
			&r.ArchiveURI,
			&r.StartedAt,
			&r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan run: %w", sounding.ErrIO, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate runs: %w", sounding.ErrIO, err)
	}
	return runs, nil
}
