// Package config is the YAML-driven engine configuration: RAM arena size,
// frame grouping, worker count, data directory, disk-free threshold, the
// aggregate-mode toggle, logging, tracing, and the debug stats endpoint.
// Load seeds defaults before unmarshalling so a partial YAML file still
// produces a usable Config.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the search driver's tunables.
type EngineConfig struct {
	DataDir             string `yaml:"data_dir"`
	RAMArenaBytes       int64  `yaml:"ram_arena_bytes"`
	FramesPerGroup      uint32 `yaml:"frames_per_group"`
	MaxFrameGroups      uint32 `yaml:"max_frame_groups"`
	Workers             int    `yaml:"workers"`
	RingCapacity        int    `yaml:"ring_capacity"`
	CacheSlotsPerBucket int    `yaml:"cache_slots_per_bucket"`
	AggregateMode       bool   `yaml:"aggregate_mode"`
	DiskFreeThreshold   int64  `yaml:"disk_free_threshold_bytes"`
	StopPollInterval    string `yaml:"stop_poll_interval"`
}

// LoggingConfig controls slog's handler selection.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout" or "file"
	File   string `yaml:"file"`
}

// TracingConfig controls OTLP span export around each frame group's phases.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // only "http" is accepted by enginectl
}

// DebugConfig controls the optional statsviz live-stats endpoint and the
// file-handle tracing mode (every open/close logged, leaked handles
// reported at exit).
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	TraceFileHandles bool   `yaml:"trace_file_handles"`
}

// IdleConfig mirrors idle.txt's work/idle millisecond pair as a YAML
// fallback when no idle.txt is present in the data directory.
type IdleConfig struct {
	Enabled bool `yaml:"enabled"`
	WorkMs  int  `yaml:"work_ms"`
	IdleMs  int  `yaml:"idle_ms"`
}

// Config is the top-level configuration struct.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Debug   DebugConfig   `yaml:"debug"`
	Idle    IdleConfig    `yaml:"idle"`
}

// ParseDuration parses a duration string, returning defaultDuration if the
// string is empty or invalid. Logs a warning on invalid (non-empty) input.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader, starting from defaults and
// overwriting them with whatever the YAML document sets. A nil or empty
// reader yields pure defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		Engine: EngineConfig{
			DataDir:             "./data",
			RAMArenaBytes:       256 * 1024 * 1024, // 256 MiB
			FramesPerGroup:      1,
			MaxFrameGroups:      1 << 20,
			Workers:             4,
			RingCapacity:        1 << 20,
			CacheSlotsPerBucket: 4,
			AggregateMode:       false,
			DiskFreeThreshold:   512 * 1024 * 1024, // 512 MiB
			StopPollInterval:    "1s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "diskbfs.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4318",
			Protocol: "http",
		},
		Debug: DebugConfig{
			Enabled:          false,
			ListenAddress:    "127.0.0.1:6060",
			TraceFileHandles: false,
		},
		Idle: IdleConfig{
			Enabled: false,
			WorkMs:  1000,
			IdleMs:  0,
		},
	}

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: reading data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing file
// is not an error: it yields defaults, matching the CLI's "-config" flag
// being optional.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer file.Close()
	return Load(file)
}
