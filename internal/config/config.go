package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.config/pixgrid/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the service.
type Config struct {
	Processing Processing `json:"processing" yaml:"processing"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Paths      Paths      `json:"paths" yaml:"paths"`
	Pattern    Pattern    `json:"pattern" yaml:"pattern"`
	Tiling     Tiling     `json:"tiling" yaml:"tiling"`
	Server     Server     `json:"server" yaml:"server"`
	Library    Library    `json:"library" yaml:"library"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs" yaml:"parallel_jobs"`
	TempDir      string `json:"temp_dir" yaml:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`         // Directory for log files
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // Max size in MB before rotation
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // Number of backup files to keep
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // Days to keep log files
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input" yaml:"default_input"`
	DefaultOutput string `json:"default_output" yaml:"default_output"`
	DatabasePath  string `json:"database_path" yaml:"database_path"`
	ObjectRoot    string `json:"object_root" yaml:"object_root"`
}

// Pattern holds defaults and limits for pattern analysis.
type Pattern struct {
	Cols      int    `json:"cols" yaml:"cols"`
	Rows      int    `json:"rows" yaml:"rows"`
	Threshold int    `json:"threshold" yaml:"threshold"`
	Mode      string `json:"mode" yaml:"mode"` // "binary", "label"
	MaxCols   int    `json:"max_cols" yaml:"max_cols"`
	MaxRows   int    `json:"max_rows" yaml:"max_rows"`
}

// Tiling holds defaults and limits for grid splitting.
type Tiling struct {
	Cols    int `json:"cols" yaml:"cols"`
	Rows    int `json:"rows" yaml:"rows"`
	MaxCols int `json:"max_cols" yaml:"max_cols"`
	MaxRows int `json:"max_rows" yaml:"max_rows"`
}

// Server configures the HTTP and gRPC listeners.
type Server struct {
	Addr        string  `json:"addr" yaml:"addr"`
	GRPCAddr    string  `json:"grpc_addr" yaml:"grpc_addr"`
	PreviewRate float64 `json:"preview_rate" yaml:"preview_rate"` // preview recomputes per second per client
	MaxUploadMB int64   `json:"max_upload_mb" yaml:"max_upload_mb"`
	TLS         TLS     `json:"tls" yaml:"tls"`
}

// TLS names PEM files for the gRPC service. Empty paths disable TLS.
type TLS struct {
	CertPath string `json:"cert_path" yaml:"cert_path"`
	KeyPath  string `json:"key_path" yaml:"key_path"`
	// CAPath lets clients verify a server signed by a private CA.
	CAPath string `json:"ca_path" yaml:"ca_path"`
}

// Library caps the persisted media and prompt history.
type Library struct {
	MaxMedia   int `json:"max_media" yaml:"max_media"`
	MaxPrompts int `json:"max_prompts" yaml:"max_prompts"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	configPath := os.Getenv("PIXGRID_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads the configuration at path. JSON is the default format;
// files ending in .yaml or .yml are parsed as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", expanded, err)
		}
	default:
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", expanded, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.ParallelJobs < 1 {
		errs = append(errs, fmt.Errorf("processing.parallel_jobs must be >= 1, got %d", c.Processing.ParallelJobs))
	}
	if c.Pattern.MaxCols < 1 || c.Pattern.MaxRows < 1 {
		errs = append(errs, fmt.Errorf("pattern limits must be >= 1, got %dx%d", c.Pattern.MaxCols, c.Pattern.MaxRows))
	}
	if c.Pattern.Threshold < 0 || c.Pattern.Threshold > 255 {
		errs = append(errs, fmt.Errorf("pattern.threshold must be within 0..255, got %d", c.Pattern.Threshold))
	}
	switch c.Pattern.Mode {
	case "binary", "label":
	default:
		errs = append(errs, fmt.Errorf("pattern.mode must be binary or label, got %q", c.Pattern.Mode))
	}
	if c.Tiling.MaxCols < 1 || c.Tiling.MaxRows < 1 {
		errs = append(errs, fmt.Errorf("tiling limits must be >= 1, got %dx%d", c.Tiling.MaxCols, c.Tiling.MaxRows))
	}
	if (c.Server.TLS.CertPath == "") != (c.Server.TLS.KeyPath == "") {
		errs = append(errs, fmt.Errorf("server.tls needs both cert_path and key_path"))
	}
	if c.Server.PreviewRate <= 0 {
		errs = append(errs, fmt.Errorf("server.preview_rate must be positive, got %v", c.Server.PreviewRate))
	}
	return errors.Join(errs...)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "pixgrid.db"),
			ObjectRoot:    filepath.Join(os.TempDir(), "pixgrid-objects"),
		},
		Pattern: Pattern{
			Cols:      160,
			Rows:      90,
			Threshold: 128,
			Mode:      "binary",
			MaxCols:   500,
			MaxRows:   500,
		},
		Tiling: Tiling{
			Cols:    2,
			Rows:    2,
			MaxCols: 10,
			MaxRows: 10,
		},
		Server: Server{
			Addr:        ":8080",
			GRPCAddr:    ":9090",
			PreviewRate: 10,
			MaxUploadMB: 32,
		},
		Library: Library{
			MaxMedia:   10,
			MaxPrompts: 10,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
