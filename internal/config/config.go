// Package config loads vizlogd configuration from defaults, an optional
// TOML file and VIZLOGD_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for vizlogd.
type Config struct {
	Grpc    GrpcConfig
	HTTP    HTTPConfig
	Store   StoreConfig
	Save    SaveConfig
	Log     LogConfig
	Sweeper SweeperConfig
}

// GrpcConfig configures the Flight ingest endpoint.
type GrpcConfig struct {
	Host string
	Port int
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Enabled      bool
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

// StoreConfig configures the in-memory chunk store.
type StoreConfig struct {
	MemoryBudget int64 // bytes
}

// SaveConfig configures where recordings are persisted on request.
type SaveConfig struct {
	// Target is a local directory or an s3://bucket/prefix URL.
	Target string
	// S3/MinIO settings, used when Target is an s3:// URL.
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string
	Format string
}

// SweeperConfig configures the periodic eviction sweep.
type SweeperConfig struct {
	Schedule string
}

// Load reads configuration from defaults, an optional vizlogd.toml and
// the environment.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("VIZLOGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("vizlogd")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vizlogd/")
	v.AddConfigPath("$HOME/.vizlogd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	budget, err := ParseSize(v.GetString("store.memory_budget"))
	if err != nil {
		return nil, fmt.Errorf("invalid store.memory_budget: %w", err)
	}

	cfg := &Config{
		Grpc: GrpcConfig{
			Host: v.GetString("grpc.host"),
			Port: v.GetInt("grpc.port"),
		},
		HTTP: HTTPConfig{
			Enabled:      v.GetBool("http.enabled"),
			Port:         v.GetInt("http.port"),
			ReadTimeout:  v.GetInt("http.read_timeout"),
			WriteTimeout: v.GetInt("http.write_timeout"),
		},
		Store: StoreConfig{
			MemoryBudget: budget,
		},
		Save: SaveConfig{
			Target:      v.GetString("save.target"),
			S3Region:    v.GetString("save.s3_region"),
			S3Endpoint:  v.GetString("save.s3_endpoint"),
			S3AccessKey: v.GetString("save.s3_access_key"),
			S3SecretKey: v.GetString("save.s3_secret_key"),
			S3PathStyle: v.GetBool("save.s3_path_style"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Sweeper: SweeperConfig{
			Schedule: v.GetString("sweeper.schedule"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 9434)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.port", 9435)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("store.memory_budget", "1GB")

	v.SetDefault("save.target", "./data/vizlog")
	v.SetDefault("save.s3_region", "us-east-1")
	v.SetDefault("save.s3_path_style", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sweeper.schedule", "*/30 * * * * *")
}

// ParseSize parses a human-readable size like "512MB" or "1GB" into
// bytes. Plain numbers are taken as bytes.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))
			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 || trailing != "" {
				return 0, fmt.Errorf("invalid size format: %s (use e.g. '1GB', '512MB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g. '1GB', '512MB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
