package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Transfer  TransferConfig  `mapstructure:"transfer"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// TransferConfig contains the file-transfer server configuration
type TransferConfig struct {
	Mode           string   `mapstructure:"mode"`
	Port           int      `mapstructure:"port"`
	UploadsDir     string   `mapstructure:"uploads_dir"`
	DownloadsDir   string   `mapstructure:"downloads_dir"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	HotspotSubnets []string `mapstructure:"hotspot_subnets"`
	StopTimeoutSec int      `mapstructure:"stop_timeout_seconds"`
	NoQR           bool     `mapstructure:"no_qr"`
}

// TelemetryConfig contains telemetry configuration
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load loads the configuration from viper
func Load() (*Config, error) {
	cfg := &Config{}

	// Set defaults
	setDefaults()

	// Unmarshal configuration
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Post-process configuration
	if err := postProcess(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults() {
	// Transfer defaults. Port and size limit follow the desktop app the
	// phone clients already know: port 1234, 500MB per upload request.
	viper.SetDefault("transfer.mode", "lan")
	viper.SetDefault("transfer.port", 1234)
	viper.SetDefault("transfer.uploads_dir", "uploads")
	viper.SetDefault("transfer.downloads_dir", "downloads")
	viper.SetDefault("transfer.max_upload_bytes", int64(500*1024*1024))
	// Subnet ranges typically handed out by mobile tethering. The exact
	// set is OS-dependent, so it stays configurable.
	viper.SetDefault("transfer.hotspot_subnets", []string{"192.168.43.0/24", "192.168.49.0/24"})
	viper.SetDefault("transfer.stop_timeout_seconds", 15)
	viper.SetDefault("transfer.no_qr", false)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)

	// Environment variable mappings
	viper.BindEnv("transfer.port", "LANSHUTTLE_PORT")
	viper.BindEnv("transfer.mode", "LANSHUTTLE_MODE")
	viper.BindEnv("transfer.max_upload_bytes", "LANSHUTTLE_MAX_UPLOAD_BYTES")
	viper.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func postProcess(cfg *Config) error {
	if cfg.Transfer.Port < 1 || cfg.Transfer.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", cfg.Transfer.Port)
	}

	// Storage roots are shared across goroutines; pin them to absolute
	// paths so a later working-directory change cannot move them.
	for _, dir := range []*string{&cfg.Transfer.UploadsDir, &cfg.Transfer.DownloadsDir} {
		if !filepath.IsAbs(*dir) {
			abs, err := filepath.Abs(*dir)
			if err != nil {
				return err
			}
			*dir = abs
		}
	}

	return nil
}
