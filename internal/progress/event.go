package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageFetchError Stage = "FETCH_ERROR"
	StageRunDone    Stage = "RUN_DONE"
)

// Event captures one step of a download run.
type Event struct {
	// RunID ties every event of one run together.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// StationID, Date and Hour identify the sounding for fetch events.
	StationID string
	Date      time.Time
	Hour      string
	// Bytes is the raw page size for FETCH_DONE.
	Bytes int64
	// Dur is the fetch latency, or the run wall time for RUN_DONE.
	Dur time.Duration
	// Succeeded and Failed are the run totals carried by RUN_DONE.
	Succeeded int
	Failed    int
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageFetchDone, StageFetchError:
		if e.StationID == "" {
			return fmt.Errorf("%s requires station", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
