package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uwyo-soundings/internal/config"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		OutputDir:     filepath.Join(t.TempDir(), "out"),
		Concurrency:   2,
		WriteArchive:  true,
		ArchiveName:   "dwl_data.pkl",
		FailurePolicy: config.FailureIsolate,
		HTTP:          config.HTTPConfig{BaseURL: baseURL, TimeoutSeconds: 5, Burst: 1},
		Storage:       config.StorageConfig{Backend: config.BackendLocal},
		Server:        config.ServerConfig{Port: 8080},
	}
}

func TestNewServicesLocalBackend(t *testing.T) {
	t.Parallel()

	srv, hits := wyomingServer(t)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	svc, err := NewServices(ctx, cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	require.Nil(t, svc.Publisher)
	require.Nil(t, svc.Stations)
	require.DirExists(t, cfg.OutputDir)

	runner, err := svc.Runner()
	require.NoError(t, err)
	report, err := runner.Run(ctx, Params{StationID: "YPDN", BeginDate: day(1), EndDate: day(2), Hour: "00", WriteArchive: true})
	require.NoError(t, err)
	require.Equal(t, 2, report.Summary.Succeeded)
	require.EqualValues(t, 2, hits.Load())
	require.FileExists(t, filepath.Join(cfg.OutputDir, "dwl_data.pkl"))

	require.NoError(t, svc.Close(ctx))
	require.NoError(t, svc.Close(ctx))
}

func TestStationSourceFallsBackToLiveCatalog(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/naconf.html") {
			fmt.Fprint(w, "<html><body><map></map></body></html>")
			return
		}
		fmt.Fprint(w, `<html><body><map>
<area onmouseover="des(72201,'Key West')">
<area onmouseover="des(72202,'Miami')">
</map></body></html>`)
	}))
	t.Cleanup(srv.Close)

	svc, err := NewServices(context.Background(), testConfig(t, srv.URL), nil, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	source := svc.StationSource()
	all, err := source.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Key West", all[0].Name)

	none, err := source.List(context.Background(), "Europe")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestNewServicesRejectsBadPool(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://uwyo.test")
	cfg.Concurrency = 0
	_, err := NewServices(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.ErrorIs(t, err, sounding.ErrConfiguration)
}

func TestParamsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.StationID = "YPDN"
	cfg.BeginDate = "2020-01-01"
	cfg.EndDate = "20200103"
	cfg.Hour = "12"
	cfg.WriteASCII = true

	p, err := ParamsFromConfig(cfg, day(9))
	require.NoError(t, err)
	require.Equal(t, day(1), p.BeginDate)
	require.Equal(t, day(3), p.EndDate)
	require.True(t, p.WriteASCII)
	require.True(t, p.WriteArchive)

	cfg.BeginDate = "01/02/2020"
	_, err = ParamsFromConfig(cfg, day(9))
	require.ErrorIs(t, err, sounding.ErrConfiguration)

	cfg.BeginDate = "2020-01-01"
	cfg.StationID = "  "
	_, err = ParamsFromConfig(cfg, day(9))
	require.ErrorIs(t, err, sounding.ErrConfiguration)
	require.ErrorContains(t, err, "soundings stations")
}
