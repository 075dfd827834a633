package sounding

import (
	"fmt"
	"time"
)

// Hour is the nominal UTC launch hour of a sounding.
type Hour string

// Recognized sounding hours.
const (
	Hour00 Hour = "00"
	Hour12 Hour = "12"
)

// Valid reports whether h is one of the recognized launch hours.
func (h Hour) Valid() bool {
	return h == Hour00 || h == Hour12
}

// NormalizeHour maps raw onto a recognized hour. Anything that is neither "00"
// nor "12" becomes Hour00 and ok is false so callers can emit a diagnostic.
func NormalizeHour(raw string) (hour Hour, ok bool) {
	h := Hour(raw)
	if h.Valid() {
		return h, true
	}
	return Hour00, false
}

// Request identifies a single sounding: one station, one day, one launch hour.
type Request struct {
	Date      time.Time
	Hour      Hour
	StationID string
}

// Filename derives the artifact name for the request, e.g. YPDN_20200101_00.txt.
func (r Request) Filename() string {
	return fmt.Sprintf("%s_%s_%s.txt", r.StationID, r.Date.Format("20060102"), r.Hour)
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s %sZ", r.StationID, r.Date.Format("2006-01-02"), r.Hour)
}

// Result is the extracted sounding table for one successful request.
type Result struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// Item is one slot of a Collection. Exactly one of Result or Err is set once
// the pool has processed the request.
type Item struct {
	Request Request
	Result  *Result
	Err     error
}

// Failed reports whether the slot holds an error record.
func (i Item) Failed() bool {
	return i.Err != nil
}

// Collection is the ordered outcome of a run, one Item per input Request in
// input order.
type Collection struct {
	Items []Item
}

// Len returns the number of slots.
func (c Collection) Len() int {
	return len(c.Items)
}

// Results returns the successful results in request order.
func (c Collection) Results() []Result {
	out := make([]Result, 0, len(c.Items))
	for _, item := range c.Items {
		if item.Result != nil && item.Err == nil {
			out = append(out, *item.Result)
		}
	}
	return out
}

// Failure pairs a request with the error that prevented its download.
type Failure struct {
	Request Request
	Err     error
}

// Summary counts succeeded and failed slots.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []Failure
}

// Summary aggregates the collection into counters and a failure list.
func (c Collection) Summary() Summary {
	s := Summary{Total: len(c.Items)}
	for _, item := range c.Items {
		if item.Failed() {
			s.Failed++
			s.Failures = append(s.Failures, Failure{Request: item.Request, Err: item.Err})
			continue
		}
		if item.Result != nil {
			s.Succeeded++
		}
	}
	return s
}
