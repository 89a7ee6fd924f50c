// Package config holds the midimapper command configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leandrodaf/midimapper/sdk/contracts"
	"github.com/leandrodaf/midimapper/sdk/rig"
)

// RigConfig names the rig and its controls.
type RigConfig struct {
	Name     string        `yaml:"name"`
	Controls []rig.Control `yaml:"controls,omitempty"`
}

// RecordConfig controls keyframe recording.
type RecordConfig struct {
	FrameRate float64       `yaml:"frameRate,omitempty"`
	Countdown time.Duration `yaml:"countdown,omitempty"` // Zero starts on the first update.
	TakeDir   string        `yaml:"takeDir,omitempty"`
}

// QueueConfig persists the session queue.
type QueueConfig struct {
	Takes   []string `yaml:"takes,omitempty"`
	Current int      `yaml:"current"` // -1 before the first take is loaded.
}

// Config is the main configuration structure.
type Config struct {
	Device     string       `yaml:"device,omitempty"` // Input port name, matched as a substring.
	MappingDir string       `yaml:"mappingDir,omitempty"`
	OutputDir  string       `yaml:"outputDir,omitempty"` // Baked timelines land in dated subfolders.
	LogLevel   string       `yaml:"logLevel,omitempty"`
	LogFile    string       `yaml:"logFile,omitempty"`
	Buffer     int          `yaml:"buffer,omitempty"` // Packet channel capacity.
	Rig        RigConfig    `yaml:"rig"`
	Record     RecordConfig `yaml:"record,omitempty"`
	Queue      QueueConfig  `yaml:"queue"`
}

// DefaultConfig returns a face rig with a handful of controls.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
		Buffer:   256,
		Rig: RigConfig{
			Name: "Face",
			Controls: []rig.Control{
				{Name: "Jaw.Open", Range: contracts.UnitRange},
				{Name: "Brow.Raise", Range: contracts.UnitRange},
				{Name: "Lid.Close", Range: contracts.UnitRange},
				{Name: "Head.Turn", Range: contracts.Range{Min: -1, Max: 1}},
			},
		},
		Record: RecordConfig{FrameRate: 30},
		Queue:  QueueConfig{Current: -1},
	}
	cfg.fill()
	return cfg
}

// Dir returns the config directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "midimapper"), nil
}

// Path returns the full path to config.yaml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config at path, or returns defaults if the file does not
// exist. An empty path means the default location.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Rig.Controls = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.fill()
	return cfg, nil
}

func (c *Config) fill() {
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.Record.FrameRate <= 0 {
		c.Record.FrameRate = 30
	}
	if c.Rig.Name == "" {
		c.Rig.Name = "Face"
	}
	if c.MappingDir == "" {
		if dir, err := Dir(); err == nil {
			c.MappingDir = filepath.Join(dir, "mappings")
		}
	}
	if c.OutputDir == "" {
		if dir, err := Dir(); err == nil {
			c.OutputDir = filepath.Join(dir, "output")
		}
	}
}

// DatedOutputDir returns the output subfolder for the day of now, named
// YYYY-MM-DD, creating it if needed.
func (c *Config) DatedOutputDir(now time.Time) (string, error) {
	if c.OutputDir == "" {
		return "", errors.New("no output directory configured")
	}
	dir := filepath.Join(c.OutputDir, now.Format(time.DateOnly))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Save writes the config to path, creating its directory. An empty path
// means the default location.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Level returns the configured log level.
func (c *Config) Level() contracts.LogLevel {
	return contracts.ParseLogLevel(c.LogLevel)
}

// BuildRig creates the rig described by the config.
func (c *Config) BuildRig() (*rig.Rig, error) {
	return rig.New(c.Rig.Name, c.Rig.Controls...)
}
