package sct

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables shared by the board and host endpoints.
type Config struct {
	// RegionPath is the file backing the shared region.
	RegionPath string `yaml:"region_path"`

	// RegionSize is the size of the region file. Zero means RegionSize().
	RegionSize int `yaml:"region_size"`

	// Family selects the aperture constants ("s5000", "s6000", "s7000").
	Family string `yaml:"family"`

	// PCIMin and PCIMax bound the host buffer addresses the board accepts.
	PCIMin uint64 `yaml:"pci_min"`
	PCIMax uint64 `yaml:"pci_max"`

	// Multi enables the shared-memory lock. Required when the parties run
	// in different processes.
	Multi bool `yaml:"multi"`

	InitTimeout    time.Duration `yaml:"init_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// PollInterval bounds how long a blocked call sleeps between checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DeadAfterTimeouts declares the peer dead after this many
	// consecutive handshake or receive timeouts. Zero disables it.
	DeadAfterTimeouts int `yaml:"dead_after_timeouts"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns configuration with defaults.
func DefaultConfig() *Config {
	return &Config{
		RegionPath:        "/dev/shm/sct0",
		Family:            FamilyS7000.String(),
		PCIMin:            0,
		PCIMax:            0xFFFFFFFF,
		Multi:             true,
		InitTimeout:       5 * time.Second,
		ConnectTimeout:    5 * time.Second,
		PollInterval:      time.Millisecond,
		DeadAfterTimeouts: 5,
		LogLevel:          "warn",
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies SCT_REGION and SCT_LOG_LEVEL when set.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("SCT_REGION"); v != "" {
		c.RegionPath = v
	}
	if v := os.Getenv("SCT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if _, err := ParseBoardFamily(c.Family); err != nil {
		return err
	}
	if c.PCIMax < c.PCIMin {
		return fmt.Errorf("%w: pci_max below pci_min", ErrInvalidParameter)
	}
	if c.RegionSize != 0 && c.RegionSize < RegionSize() {
		return fmt.Errorf("%w: region_size must be at least %d", ErrInvalidParameter, RegionSize())
	}
	if c.DeadAfterTimeouts < 0 {
		return fmt.Errorf("%w: dead_after_timeouts is negative", ErrInvalidParameter)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidParameter, c.LogLevel)
	}
	return l, nil
}

// Translator builds the address translator for the configured window.
func (c *Config) Translator() (Translator, error) {
	f, err := ParseBoardFamily(c.Family)
	if err != nil {
		return nil, err
	}
	return NewWindowTranslator(f, PhysicalAddress(c.PCIMin), PhysicalAddress(c.PCIMax))
}

func (c *Config) orDefault() *Config {
	if c == nil {
		return DefaultConfig()
	}
	return c
}
