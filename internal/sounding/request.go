package sounding

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var dateLayouts = []string{"20060102", "2006-01-02"}

// ParseDate accepts YYYYMMDD or YYYY-MM-DD and returns UTC midnight of that day.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, Configurationf("invalid date %q (want YYYYMMDD or YYYY-MM-DD)", raw)
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BuildRequests expands a station, an inclusive date range, and a launch hour
// into one Request per calendar day in ascending order. An unrecognized hour
// is replaced by "00" and reported through logger.
func BuildRequests(stationID string, begin, end time.Time, hour string, logger *zap.Logger) ([]Request, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return nil, Configurationf("station id is required")
	}
	first, last := Day(begin), Day(end)
	if first.After(last) {
		return nil, Configurationf("begin date %s is after end date %s",
			first.Format("2006-01-02"), last.Format("2006-01-02"))
	}

	h, ok := NormalizeHour(hour)
	if !ok {
		logger.Warn("wrong time for radiosounding given, using \"00\" instead",
			zap.String("hour", hour))
	}

	requests := make([]Request, 0, DayCount(first, last))
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		requests = append(requests, Request{Date: d, Hour: h, StationID: stationID})
	}
	return requests, nil
}

// DayCount returns the number of calendar days in the inclusive range.
func DayCount(begin, end time.Time) int {
	n := int(Day(end).Sub(Day(begin)).Hours()/24) + 1
	if n < 0 {
		return 0
	}
	return n
}

func (r Request) validate() error {
	if r.StationID == "" {
		return fmt.Errorf("%w: request without station", ErrConfiguration)
	}
	if !r.Hour.Valid() {
		return fmt.Errorf("%w: request hour %q", ErrConfiguration, r.Hour)
	}
	return nil
}
