package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBodies      = 1000
	DefaultWidth       = 800
	DefaultHeight      = 600
	DefaultBudgetBytes = 134217728
	DefaultMapTimeout  = 10 * time.Second
	DefaultPrint       = 5
	DefaultBackend     = BackendSoftware
)

const (
	BackendSoftware = "software"
	BackendVulkan   = "vulkan"
	BackendNative   = "native"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Bodies              int           `yaml:"bodies"`
	Width               int           `yaml:"width"`
	Height              int           `yaml:"height"`
	Seed                uint64        `yaml:"seed"`
	BudgetBytes         int           `yaml:"budget_bytes"`
	KernelFile          string        `yaml:"kernel_file,omitempty"`
	Backend             string        `yaml:"backend"`
	MapTimeout          time.Duration `yaml:"map_timeout"`
	MaxWorkgroupsPerDim uint32        `yaml:"max_workgroups_per_dim"`
	Workers             int           `yaml:"workers"`
	Print               int           `yaml:"print"`
}

func DefaultConfig() *Config {
	return &Config{
		Bodies:      DefaultBodies,
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		BudgetBytes: DefaultBudgetBytes,
		Backend:     DefaultBackend,
		MapTimeout:  DefaultMapTimeout,
		Print:       DefaultPrint,
	}
}

// Load reads a yaml file over the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the values the simulator would reject anyway, so the
// CLI can report them before touching a device.
func (c *Config) Validate() error {
	switch {
	case c.Bodies < 0:
		return fmt.Errorf("%w: bodies %d is negative", ErrInvalid, c.Bodies)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: extent %dx%d", ErrInvalid, c.Width, c.Height)
	case c.BudgetBytes <= 0 || c.BudgetBytes%4 != 0:
		return fmt.Errorf("%w: budget_bytes %d is not a positive multiple of 4", ErrInvalid, c.BudgetBytes)
	case c.Bodies*24 > c.BudgetBytes:
		return fmt.Errorf("%w: %d bodies do not fit in %d bytes", ErrInvalid, c.Bodies, c.BudgetBytes)
	case c.MapTimeout < 0:
		return fmt.Errorf("%w: map_timeout %s is negative", ErrInvalid, c.MapTimeout)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d is negative", ErrInvalid, c.Workers)
	case c.Print < 0:
		return fmt.Errorf("%w: print %d is negative", ErrInvalid, c.Print)
	}
	switch c.Backend {
	case BackendSoftware, BackendVulkan, BackendNative:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	return nil
}

// KernelSource returns the contents of KernelFile, or "" to select the
// bundled kernel.
func (c *Config) KernelSource() (string, error) {
	if c.KernelFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.KernelFile)
	if err != nil {
		return "", fmt.Errorf("config: kernel: %w", err)
	}
	return string(data), nil
}
