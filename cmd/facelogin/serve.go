package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelogin/pkg/api"
	"github.com/MrCodeEU/facelogin/pkg/logging"
)

func newServeCmd(c *cli) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				c.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				c.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config)")

	return cmd
}

// serve runs the API until ctx is canceled or the listener fails.
func (c *cli) serve(ctx context.Context) error {
	a, err := newApp(ctx, c.cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if n, err := a.blobs.SweepEphemeral(ctx, ephemeralMaxAge); err != nil {
		logging.WithError(err).Warn("Failed to sweep leftover login images")
	} else if n > 0 {
		logging.Infof("Removed %d leftover login image(s)", n)
	}

	router := api.NewRouter(api.RouterConfig{
		AuthService:    a.auth,
		MaxUploadBytes: c.cfg.Server.MaxUploadBytes,
	})
	server := api.NewServer(router, api.ServerConfig{
		Host:            c.cfg.Server.Host,
		Port:            c.cfg.Server.Port,
		ReadTimeout:     seconds(c.cfg.Server.ReadTimeout),
		WriteTimeout:    seconds(c.cfg.Server.WriteTimeout),
		ShutdownTimeout: seconds(c.cfg.Server.ShutdownTimeout),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logging.WithFields(logging.Fields{
		"addr":      server.Addr(),
		"driver":    c.cfg.Storage.Driver,
		"threshold": a.auth.Threshold(),
	}).Info("server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Info("shutdown signal received")
	}

	if err := server.Shutdown(context.Background()); err != nil {
		return err
	}
	logging.Info("server stopped")
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
