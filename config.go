package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type civConfig struct {
	Address           string `yaml:"address"`
	RadioAddress      string `yaml:"radio_address"`
	ControllerAddress string `yaml:"controller_address"`
	// CI-V commands per second sent to the radio.
	CommandRate int `yaml:"command_rate"`
}

type scannerConfig struct {
	StepSize         int      `yaml:"step_size"`
	DwellTime        int      `yaml:"dwell_time"`
	DelayTime        int      `yaml:"delay_time"`
	SquelchThreshold float64  `yaml:"squelch_threshold"`
	VoiceModes       []string `yaml:"voice_modes"`
	DigitalKeywords  []string `yaml:"digital_keywords"`
	ScopeFloorDB     float64  `yaml:"scope_floor_db"`
	ScopeRangeDB     float64  `yaml:"scope_range_db"`
}

type logConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type config struct {
	CIV       civConfig     `yaml:"civ"`
	Scanner   scannerConfig `yaml:"scanner"`
	StorePath string        `yaml:"store_path"`
	Bookmarks string        `yaml:"bookmarks"`
	// Export/import file used by the e and i hotkeys.
	TransferFile string    `yaml:"transfer_file"`
	Log          logConfig `yaml:"log"`
	// Status bar refresh in milliseconds.
	StatusInterval int `yaml:"status_interval"`
}

var errInvalidConfig = errors.New("invalid configuration")

func defaultConfig() *config {
	storePath := "kappanscan.db"
	if dir, err := os.UserConfigDir(); err == nil {
		storePath = filepath.Join(dir, "kappanscan", "kappanscan.db")
	}
	return &config{
		CIV: civConfig{
			Address:           "127.0.0.1:4531",
			RadioAddress:      "0xa4",
			ControllerAddress: "0xe0",
			CommandRate:       50,
		},
		Scanner: scannerConfig{
			StepSize:         defaultStepSize,
			DwellTime:        int(defaultDwellTime / time.Millisecond),
			DelayTime:        int(defaultDelayTime / time.Millisecond),
			SquelchThreshold: defaultSquelchThreshold,
			VoiceModes:       append([]string(nil), defaultVoiceModes...),
			DigitalKeywords:  append([]string(nil), defaultDigitalKeywords...),
			ScopeFloorDB:     -127,
			ScopeRangeDB:     100,
		},
		StorePath:    storePath,
		TransferFile: "kappanscan-export.json",
		Log: logConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		StatusInterval: 150,
	}
}

// loadConfig reads the YAML file at path (a missing file is not an error) and
// applies KAPPANSCAN_* environment overrides on top of it.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *config) loadFromEnv() {
	if v := os.Getenv("KAPPANSCAN_ADDRESS"); v != "" {
		c.CIV.Address = v
	}
	if v := os.Getenv("KAPPANSCAN_STORE"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("KAPPANSCAN_BOOKMARKS"); v != "" {
		c.Bookmarks = v
	}
	if v := os.Getenv("KAPPANSCAN_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("KAPPANSCAN_SQUELCH"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			c.Scanner.SquelchThreshold = t
		}
	}
}

func (c *config) validate() error {
	if c.CIV.Address == "" {
		return fmt.Errorf("%w: civ address is required", errInvalidConfig)
	}
	if _, err := parseCIVAddress(c.CIV.RadioAddress); err != nil {
		return fmt.Errorf("%w: radio address: %v", errInvalidConfig, err)
	}
	if _, err := parseCIVAddress(c.CIV.ControllerAddress); err != nil {
		return fmt.Errorf("%w: controller address: %v", errInvalidConfig, err)
	}
	if c.CIV.CommandRate <= 0 {
		return fmt.Errorf("%w: command rate must be positive", errInvalidConfig)
	}
	if c.Scanner.StepSize <= 0 {
		return fmt.Errorf("%w: step size must be positive", errInvalidConfig)
	}
	if c.Scanner.DwellTime <= 0 {
		return fmt.Errorf("%w: dwell time must be positive", errInvalidConfig)
	}
	if c.Scanner.DelayTime < 0 {
		return fmt.Errorf("%w: delay time must not be negative", errInvalidConfig)
	}
	if c.Scanner.ScopeRangeDB <= 0 {
		return fmt.Errorf("%w: scope range must be positive", errInvalidConfig)
	}
	if c.StorePath == "" {
		return fmt.Errorf("%w: store path is required", errInvalidConfig)
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 150
	}
	for i := range c.Scanner.VoiceModes {
		c.Scanner.VoiceModes[i] = strings.ToLower(strings.TrimSpace(c.Scanner.VoiceModes[i]))
	}
	for i := range c.Scanner.DigitalKeywords {
		c.Scanner.DigitalKeywords[i] = strings.ToLower(strings.TrimSpace(c.Scanner.DigitalKeywords[i]))
	}
	return nil
}

// accepts "0xa4", "0XA4" and "a4"
func parseCIVAddress(s string) (byte, error) {
	s = strings.Replace(s, "0x", "", -1)
	s = strings.Replace(s, "0X", "", -1)
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("can't parse %q", s)
	}
	return byte(v), nil
}

func (c *scannerConfig) engineConfig() engineConfig {
	return engineConfig{
		stepSize:         int64(c.StepSize),
		dwellTime:        time.Duration(c.DwellTime) * time.Millisecond,
		delayTime:        time.Duration(c.DelayTime) * time.Millisecond,
		squelchThreshold: c.SquelchThreshold,
	}
}
