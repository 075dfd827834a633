package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/api"
	"github.com/JakeFAU/uwyo-soundings/internal/app"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes the download
// pipeline and station catalog over HTTP.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sounding API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			svc, err := newServices(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("init services: %w", err)
			}
			defer func() {
				if cerr := svc.Close(context.Background()); cerr != nil {
					e.logger.Warn("failed to close services", zap.Error(cerr))
				}
			}()

			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", e.cfg.Server.Port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return serveHTTP(cmd.Context(), lis, newAPIServer(svc), e.logger)
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP port")
	cmd.Flags().String("api-key", "", "require this key on /v1 routes")
	cmd.Flags().String("dsn", "", "Postgres connection string for stations and run history")
	bindFlag(cmd, "server.port", "port")
	bindFlag(cmd, "server.api_key", "api-key")
	bindFlag(cmd, "db.dsn", "dsn")
	return cmd
}

func newAPIServer(svc *app.Services) *api.Server {
	var runs api.RunLister
	if svc.Runs != nil {
		runs = svc.Runs
	}
	return api.NewServer(svc.Pool, svc.StationSource(), runs, api.Config{
		APIKey:  svc.Config.Server.APIKey,
		MaxDays: svc.Config.Server.MaxDays,
	}, svc.Logger.Named("api"))
}

// serveHTTP blocks until ctx is canceled or the server fails, then shuts the
// server down gracefully.
func serveHTTP(ctx context.Context, lis net.Listener, server *api.Server, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
