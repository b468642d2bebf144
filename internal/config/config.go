// Package config loads the runtime configuration of the kiosk daemon and
// CLI: defaults, then an optional JSON or YAML file, then FACEKIOSK_*
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"facekiosk/internal/utils"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Connectivity modes.
const (
	ConnectivityInterfaces = "interfaces"
	ConnectivityDial       = "dial"
	ConnectivityAlways     = "always"
)

// Duration reads "5s"-style strings from files and the environment.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon and CLI configuration.
type Config struct {
	DataDir string `json:"data_dir" yaml:"data_dir" env:"FACEKIOSK_DATA_DIR"`
	// Backend is one of file, sqlite or memory.
	Backend string `json:"storage_backend" yaml:"storage_backend" env:"FACEKIOSK_STORAGE_BACKEND"`
	// Seal encrypts persisted state with a key derived from the machine id
	// and a salt kept next to the state. It binds the file to this device
	// but is obfuscation, not confidentiality: anyone who can read the data
	// dir and the machine id can unseal it.
	Seal bool `json:"seal_state" yaml:"seal_state" env:"FACEKIOSK_SEAL_STATE"`

	LogLevel string `json:"log_level" yaml:"log_level" env:"FACEKIOSK_LOG_LEVEL"`
	LogFile  string `json:"log_file" yaml:"log_file" env:"FACEKIOSK_LOG_FILE"`

	ListenAddr string  `json:"listen_addr" yaml:"listen_addr" env:"FACEKIOSK_LISTEN_ADDR"`
	APIRate    float64 `json:"api_rate" yaml:"api_rate" env:"FACEKIOSK_API_RATE"`
	APIBurst   int     `json:"api_burst" yaml:"api_burst" env:"FACEKIOSK_API_BURST"`

	Connectivity   string   `json:"connectivity" yaml:"connectivity" env:"FACEKIOSK_CONNECTIVITY"`
	ProbeInterval  Duration `json:"probe_interval" yaml:"probe_interval" env:"FACEKIOSK_PROBE_INTERVAL"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" env:"FACEKIOSK_REQUEST_TIMEOUT"`

	// OTELEndpoint is an OTLP/HTTP collector URL. Tracing is off when empty.
	OTELEndpoint   string  `json:"otel_endpoint" yaml:"otel_endpoint" env:"FACEKIOSK_OTEL_ENDPOINT"`
	OTELSampleRate float64 `json:"otel_sample_rate" yaml:"otel_sample_rate" env:"FACEKIOSK_OTEL_SAMPLE_RATE"`

	S3Bucket   string `json:"s3_bucket" yaml:"s3_bucket" env:"FACEKIOSK_S3_BUCKET"`
	S3Region   string `json:"s3_region" yaml:"s3_region" env:"FACEKIOSK_S3_REGION"`
	S3Endpoint string `json:"s3_endpoint" yaml:"s3_endpoint" env:"FACEKIOSK_S3_ENDPOINT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		DataDir:        utils.GetDataDir(),
		Backend:        BackendFile,
		LogLevel:       "info",
		ListenAddr:     "127.0.0.1:8080",
		APIRate:        5,
		APIBurst:       10,
		Connectivity:   ConnectivityInterfaces,
		ProbeInterval:  Duration(5 * time.Second),
		RequestTimeout: Duration(30 * time.Second),
		OTELSampleRate: 1,
	}
}

// Load builds a Config. A missing file is not an error; path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	switch c.Connectivity {
	case ConnectivityInterfaces, ConnectivityDial, ConnectivityAlways:
	default:
		return fmt.Errorf("unknown connectivity mode %q", c.Connectivity)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Backend != BackendMemory && c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.ProbeInterval <= 0 || c.RequestTimeout <= 0 {
		return errors.New("probe_interval and request_timeout must be positive")
	}
	if c.APIRate <= 0 || c.APIBurst <= 0 {
		return errors.New("api_rate and api_burst must be positive")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return errors.New("otel_sample_rate must be between 0 and 1")
	}
	return nil
}
