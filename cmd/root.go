// Package cmd defines and implements the CLI commands for the soundings executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/app"
	"github.com/JakeFAU/uwyo-soundings/internal/config"
	"github.com/JakeFAU/uwyo-soundings/internal/logging"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
	"github.com/JakeFAU/uwyo-soundings/internal/telemetry"
)

// version is set at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// bindPrefix marks command annotations that map a viper key to a flag name.
const bindPrefix = "viper:"

// env carries what every subcommand needs once configuration is loaded.
type env struct {
	cfg      config.Config
	logger   *zap.Logger
	shutdown func(context.Context) error
}

// newServices is the service factory. It's a variable so tests can register
// collectors on a private registry.
var newServices = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.Services, error) {
	return app.NewServices(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:     "soundings",
		Short:   "Download radiosonde soundings from the University of Wyoming archive.",
		Version: version,
		Long: `soundings downloads upper-air soundings published by the University of
Wyoming, one request per day for a station and launch hour. Results are
written as ASCII tables and as a single archive, locally or to GCS.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand to load config and build the logger
		// and tracer provider.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, boundFlags(cmd))
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			tp, err := telemetry.InitTracerProvider(cmd.Context(), telemetry.Options{
				ServiceName:    "soundings",
				ServiceVersion: version,
			})
			if err != nil {
				return fmt.Errorf("tracer init failed: %w", err)
			}

			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{
				cfg:      cfg,
				logger:   logger,
				shutdown: tp.Shutdown,
			}))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return nil
			}
			if err := e.shutdown(cmd.Context()); err != nil {
				e.logger.Warn("tracer shutdown failed", zap.Error(err))
			}
			_ = e.logger.Sync()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")
	cmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("base-url", sounding.DefaultBaseURL, "base URL of the sounding site")
	cmd.PersistentFlags().Int("concurrency", 1, "parallel requests")
	bindFlag(cmd, "logging.level", "log-level")
	bindFlag(cmd, "http.base_url", "base-url")
	bindFlag(cmd, "concurrency", "concurrency")

	cmd.AddCommand(newFetchCmd(), newStationsCmd(), newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, sounding.ErrConfiguration) {
		return 2
	}
	return 1
}

// bindFlag records that flag feeds the viper key; the flag may be persistent
// on an ancestor.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[bindPrefix+key] = flag
}

// boundFlags collects the bindings of cmd and its ancestors, keyed by viper key.
func boundFlags(cmd *cobra.Command) map[string]*pflag.Flag {
	out := map[string]*pflag.Flag{}
	for c := cmd; c != nil; c = c.Parent() {
		for ann, name := range c.Annotations {
			key, ok := strings.CutPrefix(ann, bindPrefix)
			if !ok {
				continue
			}
			if _, seen := out[key]; seen {
				continue
			}
			if f := cmd.Flags().Lookup(name); f != nil {
				out[key] = f
			}
		}
	}
	return out
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}
