package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/app"
	"github.com/JakeFAU/uwyo-soundings/internal/config"
)

// newFetchCmd creates the 'fetch' subcommand, which downloads one sounding per
// day in the requested range and persists the results.
func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download soundings for a station and date range",
		Long: `Downloads one sounding per calendar day between --begin and --end
(inclusive) for the given station and launch hour. Dates accept YYYYMMDD or
YYYY-MM-DD and default to today. Results are written to --output-dir as
ASCII tables (--ascii) and as a single archive (--archive).`,
		Example: `  soundings fetch --station 72201 --begin 20200101 --end 20200107 --hour 12 --ascii`,
		RunE:    runFetchCommand,
	}

	f := cmd.Flags()
	f.StringP("station", "s", "", "station id, e.g. 72201 or YPDN")
	f.StringP("begin", "b", "", "first day (YYYYMMDD or YYYY-MM-DD)")
	f.StringP("end", "e", "", "last day (YYYYMMDD or YYYY-MM-DD)")
	f.String("hour", "00", "launch hour, 00 or 12")
	f.StringP("output-dir", "o", "soundings/", "local output directory")
	f.Bool("ascii", false, "write one ASCII file per sounding")
	f.Bool("archive", true, "write the combined archive")
	f.String("archive-name", "dwl_data.pkl", "archive file name")
	f.String("failure-policy", config.FailureIsolate, "isolate or abort")
	f.String("storage", config.BackendLocal, "storage backend, local or gcs")
	f.String("bucket", "", "GCS bucket when --storage=gcs")
	f.String("metrics-textfile", "", "write run metrics to this Prometheus textfile")

	bindFlag(cmd, "station_id", "station")
	bindFlag(cmd, "begin_date", "begin")
	bindFlag(cmd, "end_date", "end")
	bindFlag(cmd, "hour", "hour")
	bindFlag(cmd, "output_dir", "output-dir")
	bindFlag(cmd, "write_ascii", "ascii")
	bindFlag(cmd, "write_archive", "archive")
	bindFlag(cmd, "archive_name", "archive-name")
	bindFlag(cmd, "failure_policy", "failure-policy")
	bindFlag(cmd, "storage.backend", "storage")
	bindFlag(cmd, "storage.gcs_bucket", "bucket")
	bindFlag(cmd, "metrics.textfile", "metrics-textfile")
	return cmd
}

func runFetchCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	params, err := app.ParamsFromConfig(e.cfg, time.Now())
	if err != nil {
		return err
	}

	svc, err := newServices(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer func() {
		if cerr := svc.Close(cmd.Context()); cerr != nil {
			e.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	runner, err := svc.Runner()
	if err != nil {
		return err
	}
	report, err := runner.Run(cmd.Context(), params)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(w io.Writer, r app.Report) {
	s := r.Summary
	fmt.Fprintf(w, "run %s: %d/%d soundings downloaded", r.RunID, s.Succeeded, s.Total)
	if s.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", s.Failed)
	}
	fmt.Fprintln(w)
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  failed %s: %v\n", f.Request, f.Err)
	}
	if r.ArchiveURI != "" {
		fmt.Fprintf(w, "archive: %s\n", r.ArchiveURI)
	}
	if n := len(r.ArtifactURIs); n > 0 {
		fmt.Fprintf(w, "ascii files: %d\n", n)
	}
}
