package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the chaos service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Chaos     ChaosConfig     `yaml:"chaos"`
	Marker    MarkerConfig    `yaml:"marker"`
}

// ServerConfig controls HTTP and gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ReadinessConfig holds the thresholds and window sizing behind the
// readiness signal.
type ReadinessConfig struct {
	MaxLatency    time.Duration `yaml:"maxLatency"`
	MaxMemoryMB   float64       `yaml:"maxMemoryMB"`
	MaxCPUPercent float64       `yaml:"maxCPUPercent"`
	WindowSize    int           `yaml:"windowSize"`
	MinSamples    int           `yaml:"minSamples"`
	MaxSampleAge  time.Duration `yaml:"maxSampleAge"`
	ProbeInterval time.Duration `yaml:"probeInterval"`
}

// ChaosConfig bounds fault injection and sets action defaults.
type ChaosConfig struct {
	MaxConcurrent   int           `yaml:"maxConcurrent"`
	Cooldown        time.Duration `yaml:"cooldown"`
	CPULoadDuration time.Duration `yaml:"cpuLoadDuration"`
	CPULoadWorkers  int           `yaml:"cpuLoadWorkers"`
	MemoryMB        int           `yaml:"memoryMB"`
	MemoryHold      time.Duration `yaml:"memoryHold"`
}

// MarkerConfig selects where the last-known-unhealthy marker is persisted.
type MarkerConfig struct {
	Mode   string       `yaml:"mode"`
	Path   string       `yaml:"path"`
	Key    string       `yaml:"key"`
	Valkey ValkeyConfig `yaml:"valkey"`
}

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible
// marker store.
type ValkeyConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          bool          `yaml:"tls"`
}

// Marker store modes.
const (
	MarkerModeNone   = "none"
	MarkerModeFile   = "file"
	MarkerModeValkey = "valkey"
)

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CHAOS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8000",
			GRPCAddress:     ":8001",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Readiness: ReadinessConfig{
			MaxLatency:    500 * time.Millisecond,
			MaxMemoryMB:   400,
			MaxCPUPercent: 0,
			WindowSize:    100,
			MinSamples:    5,
			MaxSampleAge:  0,
			ProbeInterval: 2 * time.Second,
		},
		Chaos: ChaosConfig{
			MaxConcurrent:   1,
			Cooldown:        5 * time.Second,
			CPULoadDuration: 10 * time.Second,
			CPULoadWorkers:  1,
			MemoryMB:        100,
			MemoryHold:      0,
		},
		Marker: MarkerConfig{
			Mode: MarkerModeNone,
			Path: "/var/run/mirador-chaos/last-unhealthy",
			Key:  "mirador:chaos:last-unhealthy",
			Valkey: ValkeyConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
			},
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Readiness.MaxLatency < 0 {
		return fmt.Errorf("readiness.maxLatency must not be negative")
	}
	if c.Readiness.MaxMemoryMB < 0 {
		return fmt.Errorf("readiness.maxMemoryMB must not be negative")
	}
	if c.Readiness.MaxCPUPercent < 0 {
		return fmt.Errorf("readiness.maxCPUPercent must not be negative")
	}
	if c.Readiness.WindowSize < 1 {
		return fmt.Errorf("readiness.windowSize must be at least 1")
	}
	if c.Readiness.MinSamples < 1 {
		return fmt.Errorf("readiness.minSamples must be at least 1")
	}
	if c.Readiness.MaxSampleAge < 0 {
		return fmt.Errorf("readiness.maxSampleAge must not be negative")
	}
	if c.Chaos.MaxConcurrent < 1 {
		return fmt.Errorf("chaos.maxConcurrent must be at least 1")
	}
	if c.Chaos.Cooldown < 0 {
		return fmt.Errorf("chaos.cooldown must not be negative")
	}
	if c.Chaos.CPULoadDuration < 0 {
		return fmt.Errorf("chaos.cpuLoadDuration must not be negative")
	}
	if c.Chaos.CPULoadWorkers < 1 {
		return fmt.Errorf("chaos.cpuLoadWorkers must be at least 1")
	}
	if c.Chaos.MemoryMB < 0 {
		return fmt.Errorf("chaos.memoryMB must not be negative")
	}
	if c.Chaos.MemoryHold < 0 {
		return fmt.Errorf("chaos.memoryHold must not be negative")
	}
	switch c.Marker.Mode {
	case MarkerModeNone:
	case MarkerModeFile:
		if c.Marker.Path == "" {
			return fmt.Errorf("marker.path is required when marker.mode is file")
		}
	case MarkerModeValkey:
		if c.Marker.Valkey.Addr == "" {
			return fmt.Errorf("marker.valkey.addr is required when marker.mode is valkey")
		}
	default:
		return fmt.Errorf("marker.mode must be one of none, file, valkey")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHAOS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CHAOS_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("CHAOS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHAOS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MAX_LATENCY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Readiness.MaxLatency = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_MEMORY_MB_READY"); v != "" {
		if mb, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Readiness.MaxMemoryMB = mb
		}
	}
	if v := os.Getenv("MAX_CPU_PERCENT"); v != "" {
		if pct, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Readiness.MaxCPUPercent = pct
		}
	}
	if v := os.Getenv("CHAOS_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Readiness.WindowSize = n
		}
	}
	if v := os.Getenv("CHAOS_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Readiness.MinSamples = n
		}
	}
	if v := os.Getenv("CHAOS_MAX_SAMPLE_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Readiness.MaxSampleAge = d
		}
	}
	if v := os.Getenv("CHAOS_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Readiness.ProbeInterval = d
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_CHAOS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chaos.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CHAOS_COOLDOWN_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Chaos.Cooldown = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("CPU_LOAD_DURATION"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Chaos.CPULoadDuration = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("CHAOS_CPU_LOAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chaos.CPULoadWorkers = n
		}
	}
	if v := os.Getenv("MEMORY_MB"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil {
			cfg.Chaos.MemoryMB = mb
		}
	}
	if v := os.Getenv("CHAOS_MEMORY_HOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Chaos.MemoryHold = d
		}
	}
	if v := os.Getenv("CHAOS_MARKER_MODE"); v != "" {
		cfg.Marker.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("CHAOS_MARKER_PATH"); v != "" {
		cfg.Marker.Path = v
	}
	if v := os.Getenv("CHAOS_MARKER_KEY"); v != "" {
		cfg.Marker.Key = v
	}
	if v := os.Getenv("CHAOS_MARKER_VALKEY_ADDR"); v != "" {
		cfg.Marker.Valkey.Addr = v
	}
	if v := os.Getenv("CHAOS_MARKER_VALKEY_USERNAME"); v != "" {
		cfg.Marker.Valkey.Username = v
	}
	if v := os.Getenv("CHAOS_MARKER_VALKEY_PASSWORD"); v != "" {
		cfg.Marker.Valkey.Password = v
	}
	if v := os.Getenv("CHAOS_MARKER_VALKEY_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Marker.Valkey.DB = db
		}
	}
	if v := os.Getenv("CHAOS_MARKER_VALKEY_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Marker.Valkey.TLS = true
	}
}
