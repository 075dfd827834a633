package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/uwyo-soundings/internal/catalog"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// StationStore keeps the scraped station catalog in a table keyed by
// (region, id).
type StationStore struct {
	db    DB
	table string
}

// NewStationStore wraps db. An empty table selects "stations".
func NewStationStore(db DB, table string) (*StationStore, error) {
	if db == nil {
		return nil, sounding.Configurationf("station store requires a pool")
	}
	table, err := checkTable(table, "stations")
	if err != nil {
		return nil, err
	}
	return &StationStore{db: db, table: table}, nil
}

// Close releases the underlying pool.
func (s *StationStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Upsert writes stations in a single transaction, updating names of rows
// that already exist.
func (s *StationStore) Upsert(ctx context.Context, stations []catalog.Station) error {
	if len(stations) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, region, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (region, id) DO UPDATE
SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`, s.table)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin upsert: %w", sounding.ErrIO, err)
	}
	for _, st := range stations {
		if _, err := tx.Exec(ctx, query, st.ID, st.Name, st.Region); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%w: upsert station %s: %w", sounding.ErrIO, st.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit upsert: %w", sounding.ErrIO, err)
	}
	return nil
}

// List returns stored stations ordered by region and id. An empty region
// returns every row.
func (s *StationStore) List(ctx context.Context, region string) ([]catalog.Station, error) {
	query := fmt.Sprintf(`
SELECT id, name, region
FROM %s
WHERE ($1 = '' OR region = $1)
ORDER BY region, id`, s.table)

	rows, err := s.db.Query(ctx, query, region)
	if err != nil {
		return nil, fmt.Errorf("%w: list stations: %w", sounding.ErrIO, err)
	}
	defer rows.Close()

	var out []catalog.Station
	for rows.Next() {
		var st catalog.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Region); err != nil {
			return nil, fmt.Errorf("%w: scan station: %w", sounding.ErrIO, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate stations: %w", sounding.ErrIO, err)
	}
	return out, nil
}
