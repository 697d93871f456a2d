package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"themerizr/internal/manifest"
)

const (
	DefaultHeight = 64
	DefaultWidth  = 256
	DefaultAddr   = ":8080"
)

// Config holds all the parameters of a conversion run and of the preview server.
type Config struct {
	Source string `toml:"source" yaml:"source" json:"source"`
	Target string `toml:"target" yaml:"target" json:"target"`

	// Height and Width bound the generated PNGs in pixels.
	Height int    `toml:"height" yaml:"height" json:"height"`
	Width  int    `toml:"width" yaml:"width" json:"width"`
	Prefix string `toml:"prefix" yaml:"prefix" json:"prefix"`

	Workers int  `toml:"workers,omitempty" yaml:"workers,omitempty" json:"workers,omitempty"`
	Stable  bool `toml:"stable,omitempty" yaml:"stable,omitempty" json:"stable,omitempty"` // sort manifest groups by filename
	Strict  bool `toml:"strict,omitempty" yaml:"strict,omitempty" json:"strict,omitempty"` // reject SVGs with unsupported features

	Name        string `toml:"name,omitempty" yaml:"name,omitempty" json:"name,omitempty"`
	Description string `toml:"description,omitempty" yaml:"description,omitempty" json:"description,omitempty"`

	// Report is an optional .csv, .xlsx or .json file receiving per-file results.
	Report string `toml:"report,omitempty" yaml:"report,omitempty" json:"report,omitempty"`

	Addr    string `toml:"addr,omitempty" yaml:"addr,omitempty" json:"addr,omitempty"`
	Watch   bool   `toml:"watch,omitempty" yaml:"watch,omitempty" json:"watch,omitempty"`
	TLS     bool   `toml:"tls,omitempty" yaml:"tls,omitempty" json:"tls,omitempty"`
	CertDir string `toml:"cert_dir,omitempty" yaml:"cert_dir,omitempty" json:"cert_dir,omitempty"`
}

// Default returns a Config populated with the command defaults.
func Default() *Config {
	return &Config{
		Height:      DefaultHeight,
		Width:       DefaultWidth,
		Workers:     DefaultWorkers(),
		Name:        manifest.DefaultName,
		Description: manifest.DefaultDescription,
		Addr:        DefaultAddr,
	}
}

// DefaultWorkers sizes the conversion pool for I/O-plus-CPU work.
func DefaultWorkers() int {
	return min(32, runtime.NumCPU()+4)
}

// Load decodes the file at path over cfg. The format follows the extension:
// .toml, .yaml/.yml or .json. Keys missing from the file keep their value.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format: %q", ext)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("source directory is required")
	}
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("target directory is required")
	}
	if c.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	if c.Height <= 0 || c.Width <= 0 {
		return fmt.Errorf("height and width must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Report != "" {
		switch strings.ToLower(filepath.Ext(c.Report)) {
		case ".csv", ".xlsx", ".json":
		default:
			return fmt.Errorf("unsupported report format: %s", c.Report)
		}
	}
	return nil
}
