package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lanshuttle/lanshuttle/pkg/config"
	"github.com/lanshuttle/lanshuttle/pkg/controller"
	"github.com/lanshuttle/lanshuttle/pkg/endpoint"
	"github.com/lanshuttle/lanshuttle/pkg/telemetry"
	"github.com/lanshuttle/lanshuttle/pkg/vfs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transfer server",
	Long: `Start the HTTP transfer server and print the URL (and a QR code) to
open on the phone. Files uploaded by the phone land in the uploads
directory; files placed in the downloads directory are offered to the
phone for download.`,
	RunE: runServe,
}

func init() {
	viper.AutomaticEnv()
	// Replace . with _ in env var names (e.g., transfer.port becomes TRANSFER_PORT)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	rootCmd.AddCommand(serveCmd)

	// Serve-specific flags
	serveCmd.Flags().IntP("port", "p", 1234, "Port to listen on")
	serveCmd.Flags().StringP("mode", "m", "lan", "Transfer mode (lan, hotspot)")
	serveCmd.Flags().String("uploads-dir", "uploads", "Directory receiving phone uploads")
	serveCmd.Flags().String("downloads-dir", "downloads", "Directory offered for phone downloads")
	serveCmd.Flags().Int64("max-upload-bytes", 500*1024*1024, "Maximum size of one upload request")
	serveCmd.Flags().Bool("no-qr", false, "Do not print a QR code for the URL")
	serveCmd.Flags().Bool("enable-telemetry", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().String("otel-endpoint", "", "OpenTelemetry endpoint (if empty, uses auto-export)")

	// Bind flags to viper
	_ = viper.BindPFlag("transfer.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("transfer.mode", serveCmd.Flags().Lookup("mode"))
	_ = viper.BindPFlag("transfer.uploads_dir", serveCmd.Flags().Lookup("uploads-dir"))
	_ = viper.BindPFlag("transfer.downloads_dir", serveCmd.Flags().Lookup("downloads-dir"))
	_ = viper.BindPFlag("transfer.max_upload_bytes", serveCmd.Flags().Lookup("max-upload-bytes"))
	_ = viper.BindPFlag("transfer.no_qr", serveCmd.Flags().Lookup("no-qr"))
	_ = viper.BindPFlag("telemetry.enabled", serveCmd.Flags().Lookup("enable-telemetry"))
	_ = viper.BindPFlag("telemetry.endpoint", serveCmd.Flags().Lookup("otel-endpoint"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := GetLogger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	mode, err := endpoint.ParseMode(cfg.Transfer.Mode)
	if err != nil {
		return err
	}

	// Initialize telemetry if enabled
	if cfg.Telemetry.Enabled {
		logger.Info("Initializing OpenTelemetry")
		cleanup, err := telemetry.Initialize(logger)
		if err != nil {
			logger.Warnf("Failed to initialize telemetry: %v", err)
		} else {
			defer cleanup()
		}
	}

	view, err := vfs.New(cfg.Transfer.UploadsDir, cfg.Transfer.DownloadsDir, logger)
	if err != nil {
		return fmt.Errorf("failed to prepare storage roots: %w", err)
	}

	ctrl := controller.New(cfg, logger, view)

	// Relay controller events into the log so warnings (wrong-looking
	// hotspot interface, forced shutdowns) reach the terminal.
	events := ctrl.Events().Subscribe()
	defer ctrl.Events().Unsubscribe(events)
	go relayEvents(events)

	resolved, err := ctrl.Start(endpoint.Config{Mode: mode, Port: cfg.Transfer.Port})
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	fmt.Printf("\nOpen on your phone: %s\n\n", resolved.URL)
	if !cfg.Transfer.NoQR {
		qrterminal.GenerateWithConfig(resolved.URL, qrterminal.Config{
			Level:     qrterminal.L,
			Writer:    os.Stdout,
			BlackChar: qrterminal.BLACK,
			WhiteChar: qrterminal.WHITE,
			QuietZone: 1,
		})
		fmt.Println()
	}

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	sig := <-interrupt
	logger.Infof("Received signal %v, shutting down...", sig)

	if err := ctrl.Stop(context.Background()); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func relayEvents(events chan controller.Event) {
	logger := GetLogger()
	for ev := range events {
		switch ev.Type {
		case controller.EventLog:
			switch ev.Level {
			case controller.LevelWarning:
				logger.Warn(ev.Message)
			case controller.LevelError:
				logger.Error(ev.Message)
			default:
				// Info/success events are already logged at the source.
				logger.Debug(ev.Message)
			}
		case controller.EventConnections:
			logger.Debugf("Open connections: %d", ev.Connections)
		}
	}
}
