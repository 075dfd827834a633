package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/app"
	"github.com/JakeFAU/uwyo-soundings/internal/catalog"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
	"github.com/JakeFAU/uwyo-soundings/internal/storage/postgres"
)

// newStationsCmd creates the 'stations' subcommand, which lists the stations
// published on the regional index pages.
func newStationsCmd() *cobra.Command {
	var (
		region string
		asJSON bool
		store  bool
	)
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "List available radiosonde stations",
		Long: `Fetches the regional index pages and prints every station id and name.
With --store the list is also upserted into the configured Postgres table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cat := catalog.New(app.NewFetcher(e.cfg, e.logger), sounding.NewEndpoint(e.cfg.HTTP.BaseURL), e.cfg.Concurrency, e.logger)

			var stations []catalog.Station
			if region != "" {
				reg, ok := catalog.LookupRegion(region)
				if !ok {
					return sounding.Configurationf("unknown region %q", region)
				}
				if stations, err = cat.Region(ctx, reg); err != nil {
					return err
				}
			} else {
				byRegion, err := cat.List(ctx)
				if err != nil {
					return err
				}
				stations = catalog.Flatten(byRegion)
			}

			if store {
				if err := storeStations(cmd, e, stations); err != nil {
					return err
				}
			}
			if asJSON {
				return writeStationsJSON(cmd.OutOrStdout(), stations)
			}
			return writeStationsTable(cmd.OutOrStdout(), stations)
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region code (samer, europe, naconf, pac, nz, ant, np, africa, seasia, mideast)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().BoolVar(&store, "store", false, "upsert the stations into the database (requires db.dsn)")
	cmd.Flags().String("dsn", "", "Postgres connection string")
	bindFlag(cmd, "db.dsn", "dsn")
	return cmd
}

func storeStations(cmd *cobra.Command, e *env, stations []catalog.Station) error {
	if e.cfg.DB.DSN == "" {
		return sounding.Configurationf("--store requires db.dsn")
	}
	pool, err := postgres.Connect(cmd.Context(), postgres.Config{DSN: e.cfg.DB.DSN, MaxConns: e.cfg.DB.MaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	st, err := postgres.NewStationStore(pool, e.cfg.DB.Table)
	if err != nil {
		return err
	}
	if err := st.Upsert(cmd.Context(), stations); err != nil {
		return err
	}
	e.logger.Info("stations stored", zap.Int("count", len(stations)), zap.String("table", e.cfg.DB.Table))
	return nil
}

func writeStationsJSON(w io.Writer, stations []catalog.Station) error {
	if stations == nil {
		stations = []catalog.Station{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stations); err != nil {
		return fmt.Errorf("encode stations: %w", err)
	}
	return nil
}

func writeStationsTable(w io.Writer, stations []catalog.Station) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tREGION")
	for _, s := range stations {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Name, s.Region)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write stations: %w", err)
	}
	return nil
}
