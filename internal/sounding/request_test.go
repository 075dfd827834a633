package sounding

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBuildRequestsOnePerDayAscending(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		begin time.Time
		end   time.Time
		want  int
	}{
		{name: "single day", begin: date(2020, 1, 1), end: date(2020, 1, 1), want: 1},
		{name: "three days", begin: date(2020, 1, 1), end: date(2020, 1, 3), want: 3},
		{name: "leap february", begin: date(2020, 2, 27), end: date(2020, 3, 1), want: 4},
		{name: "year boundary", begin: date(2019, 12, 30), end: date(2020, 1, 2), want: 4},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reqs, err := BuildRequests("YPDN", tt.begin, tt.end, "12", nil)
			require.NoError(t, err)
			require.Len(t, reqs, tt.want)
			for i, r := range reqs {
				require.Equal(t, tt.begin.AddDate(0, 0, i), r.Date)
				require.Equal(t, Hour12, r.Hour)
				require.Equal(t, "YPDN", r.StationID)
			}
		})
	}
}

func TestBuildRequestsNormalizesInvalidHour(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	reqs, err := BuildRequests("YPDN", date(2020, 1, 1), date(2020, 1, 2), "06", zap.New(core))
	require.NoError(t, err)
	for _, r := range reqs {
		require.Equal(t, Hour00, r.Hour)
	}
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "06", logs.All()[0].ContextMap()["hour"])
}

func TestBuildRequestsKeepsValidHourWithoutDiagnostic(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	for _, h := range []string{"00", "12"} {
		reqs, err := BuildRequests("YPDN", date(2020, 1, 1), date(2020, 1, 1), h, zap.New(core))
		require.NoError(t, err)
		require.Equal(t, Hour(h), reqs[0].Hour)
	}
	require.Zero(t, logs.Len())
}

func TestBuildRequestsRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := BuildRequests("  ", date(2020, 1, 1), date(2020, 1, 2), "00", nil)
	require.True(t, errors.Is(err, ErrConfiguration))

	_, err = BuildRequests("YPDN", date(2020, 1, 3), date(2020, 1, 2), "00", nil)
	require.ErrorIs(t, err, ErrConfiguration)
	require.Contains(t, err.Error(), "after end date")
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	got, err := ParseDate("20200101")
	require.NoError(t, err)
	require.Equal(t, date(2020, 1, 1), got)

	got, err = ParseDate("2020-01-31")
	require.NoError(t, err)
	require.Equal(t, date(2020, 1, 31), got)

	_, err = ParseDate("01/02/2020")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestFilenameIsDistinctPerHour(t *testing.T) {
	t.Parallel()

	r00 := Request{StationID: "YPDN", Date: date(2020, 1, 1), Hour: Hour00}
	r12 := r00
	r12.Hour = Hour12
	require.Equal(t, "YPDN_20200101_00.txt", r00.Filename())
	require.Equal(t, "YPDN_20200101_12.txt", r12.Filename())
	require.NotEqual(t, r00.Filename(), r12.Filename())
}
