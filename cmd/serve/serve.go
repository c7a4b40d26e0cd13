// Package serve implements the serve command, running the HTTP API and the
// background processing queue until interrupted.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	api "github.com/cybeform/cybemeeting/internal/api/v2"
	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/datastore"
	"github.com/cybeform/cybemeeting/internal/jobqueue"
	"github.com/cybeform/cybemeeting/internal/mqtt"
	"github.com/cybeform/cybemeeting/internal/observability"
	"github.com/cybeform/cybemeeting/internal/pipeline"
	"github.com/cybeform/cybemeeting/internal/remotestore"
	"github.com/cybeform/cybemeeting/internal/securefs"
	"github.com/cybeform/cybemeeting/internal/security"
	"github.com/cybeform/cybemeeting/internal/telemetry"
)

// Command creates the serve command for running the backend server.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CybeMeeting server",
		Long:  "Start the HTTP API and the background meeting processing queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Host, "host", viper.GetString("webserver.host"), "Host to bind the web server to")
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Port to listen on")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

// runServer wires the services together and blocks until the process
// receives SIGINT or SIGTERM.
func runServer(ctx context.Context, settings *conf.Settings) error {
	if settings.Sentry.Enabled {
		if err := telemetry.InitSentry(settings); err != nil {
			slog.Warn("Sentry initialization failed, continuing without telemetry", "error", err)
		} else {
			defer telemetry.Flush(2 * time.Second)
		}
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled, enable sqlite or mysql in the configuration")
	}
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	sfs, err := securefs.New(settings.Storage.DataPath)
	if err != nil {
		return fmt.Errorf("failed to initialize data directory %s: %w", settings.Storage.DataPath, err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	proc := pipeline.New(settings, store, sfs)
	proc.Metrics = metrics.Pipeline

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(&settings.MQTT, "cybemeeting-"+settings.Main.Name)
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := client.Connect(connectCtx)
		cancel()
		if err != nil {
			slog.Warn("MQTT broker connection failed, meeting events will not be published",
				"broker", settings.MQTT.Broker, "error", err)
		} else {
			proc.Publisher = client
			defer client.Disconnect()
		}
	}

	if settings.Storage.Remote.Enabled {
		target, err := remotestore.New(&settings.Storage.Remote)
		if err != nil {
			slog.Warn("Remote report storage disabled", "error", err)
		} else {
			proc.Remote = target
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := jobqueue.New(&settings.Processing)
	queue.Start(sigCtx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	controller, err := api.New(e, store, settings, sfs,
		security.NewManager(&settings.Security), proc, queue, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize API: %w", err)
	}

	addr := net.JoinHostPort(settings.WebServer.Host, settings.WebServer.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("CybeMeeting server started",
		"version", settings.Version,
		"address", addr,
		"datapath", settings.Storage.DataPath)

	select {
	case <-sigCtx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("web server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("Web server shutdown failed", "error", err)
	}
	if err := queue.StopWithTimeout(30 * time.Second); err != nil {
		slog.Error("Job queue shutdown failed", "error", err)
	}
	controller.Shutdown()

	slog.Info("CybeMeeting server stopped")
	return nil
}
