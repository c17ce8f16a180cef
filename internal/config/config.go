package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the simulator listens on.
	DefaultAddr = ":8080"
	// DefaultGRPCAddr is the default TCP address for the telemetry gRPC bridge.
	DefaultGRPCAddr = ":9090"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 256

	// DefaultTickRateHz drives the fixed-step physics loop.
	DefaultTickRateHz = 100.0
	// DefaultStatusInterval controls how often drone status updates are broadcast.
	DefaultStatusInterval = time.Second

	// DefaultWorldBoundsX, Y and Z size the simulated space in metres.
	DefaultWorldBoundsX = 20.0
	DefaultWorldBoundsY = 20.0
	DefaultWorldBoundsZ = 10.0

	// DefaultBlackboxDir is where flight recorder bundles are written.
	DefaultBlackboxDir = "blackbox"
	// DefaultBlackboxDumpWindow bounds how frequently bundle dumps may be requested.
	DefaultBlackboxDumpWindow = time.Minute
	// DefaultBlackboxDumpBurst sets how many dump requests may be made per window.
	DefaultBlackboxDumpBurst = 1
	// DefaultBlackboxMaxBundles limits retained flight bundles on disk.
	DefaultBlackboxMaxBundles = 24

	// DefaultLogLevel controls verbosity for simulator logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "simulator.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultStateSnapshotInterval controls how frequently layout snapshots are persisted.
	DefaultStateSnapshotInterval = 30 * time.Second
)

// Config captures all runtime tunables for the simulator service.
type Config struct {
	Address               string
	GRPCAddress           string
	AllowedOrigins        []string
	MaxPayloadBytes       int64
	PingInterval          time.Duration
	MaxClients            int
	TLSCertPath           string
	TLSKeyPath            string
	AdminToken            string
	TickRateHz            float64
	StatusInterval        time.Duration
	WorldBounds           WorldBounds
	ScenarioPath          string
	BlackboxDir           string
	BlackboxS3Bucket      string
	BlackboxS3Prefix      string
	BlackboxDumpWindow    time.Duration
	BlackboxDumpBurst     int
	BlackboxMaxBundles    int
	Logging               LoggingConfig
	StateSnapshotPath     string
	StateSnapshotInterval time.Duration
}

// WorldBounds holds the simulated space dimensions in metres.
type WorldBounds struct {
	X, Y, Z float64
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the simulator configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:            getString("FLEET_ADDR", DefaultAddr),
		GRPCAddress:        getString("FLEET_GRPC_ADDR", DefaultGRPCAddr),
		AllowedOrigins:     parseList(os.Getenv("FLEET_ALLOWED_ORIGINS")),
		MaxPayloadBytes:    DefaultMaxPayloadBytes,
		PingInterval:       DefaultPingInterval,
		MaxClients:         DefaultMaxClients,
		TLSCertPath:        strings.TrimSpace(os.Getenv("FLEET_TLS_CERT")),
		TLSKeyPath:         strings.TrimSpace(os.Getenv("FLEET_TLS_KEY")),
		AdminToken:         strings.TrimSpace(os.Getenv("FLEET_ADMIN_TOKEN")),
		TickRateHz:         DefaultTickRateHz,
		StatusInterval:     DefaultStatusInterval,
		WorldBounds:        WorldBounds{X: DefaultWorldBoundsX, Y: DefaultWorldBoundsY, Z: DefaultWorldBoundsZ},
		ScenarioPath:       strings.TrimSpace(os.Getenv("FLEET_SCENARIO_PATH")),
		BlackboxDir:        getString("FLEET_BLACKBOX_DIR", DefaultBlackboxDir),
		BlackboxS3Bucket:   strings.TrimSpace(os.Getenv("FLEET_BLACKBOX_S3_BUCKET")),
		BlackboxS3Prefix:   strings.TrimSpace(os.Getenv("FLEET_BLACKBOX_S3_PREFIX")),
		BlackboxDumpWindow: DefaultBlackboxDumpWindow,
		BlackboxDumpBurst:  DefaultBlackboxDumpBurst,
		BlackboxMaxBundles: DefaultBlackboxMaxBundles,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("FLEET_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("FLEET_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		StateSnapshotPath:     strings.TrimSpace(os.Getenv("FLEET_STATE_PATH")),
		StateSnapshotInterval: DefaultStateSnapshotInterval,
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("FLEET_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("FLEET_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("FLEET_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("FLEET_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_TICK_RATE_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("FLEET_TICK_RATE_HZ must be a positive number, got %q", raw))
		} else {
			cfg.TickRateHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_STATUS_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("FLEET_STATUS_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.StatusInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_WORLD_BOUNDS")); raw != "" {
		bounds, err := parseBounds(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("FLEET_WORLD_BOUNDS must be three positive numbers like \"20x20x10\", got %q", raw))
		} else {
			cfg.WorldBounds = bounds
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("FLEET_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("FLEET_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("FLEET_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("FLEET_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_BLACKBOX_DUMP_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("FLEET_BLACKBOX_DUMP_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.BlackboxDumpWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_BLACKBOX_DUMP_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("FLEET_BLACKBOX_DUMP_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.BlackboxDumpBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_BLACKBOX_MAX_BUNDLES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("FLEET_BLACKBOX_MAX_BUNDLES must be a non-negative integer, got %q", raw))
		} else {
			cfg.BlackboxMaxBundles = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FLEET_STATE_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("FLEET_STATE_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.StateSnapshotInterval = duration
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "FLEET_TLS_CERT and FLEET_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

// parseBounds interprets "XxYxZ" dimension strings, e.g. "20x20x10".
func parseBounds(raw string) (WorldBounds, error) {
	parts := strings.Split(strings.ToLower(raw), "x")
	if len(parts) != 3 {
		return WorldBounds{}, fmt.Errorf("expected three dimensions, got %d", len(parts))
	}
	values := make([]float64, 3)
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || value <= 0 {
			return WorldBounds{}, fmt.Errorf("dimension %d invalid", i)
		}
		values[i] = value
	}
	return WorldBounds{X: values[0], Y: values[1], Z: values[2]}, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
