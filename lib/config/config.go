// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the file Load reads.
const EnvironmentVariable = "HZN_CONFIG"

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete Horizon configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	// StrictRelease makes a failed handle release panic instead of
	// logging. Nil takes the environment's default.
	StrictRelease *bool `yaml:"strict_release,omitempty" json:"strict_release,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Driver DriverConfig `yaml:"driver" json:"driver"`
	GPU    GPUConfig    `yaml:"gpu" json:"gpu"`
	Trace  TraceConfig  `yaml:"trace" json:"trace"`

	Development *Overrides `yaml:"development,omitempty" json:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// Overrides holds the fields an environment section may replace.
// Empty fields leave the base value alone.
type Overrides struct {
	StrictRelease *bool         `yaml:"strict_release,omitempty" json:"strict_release,omitempty"`
	LogLevel      string        `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Driver        *DriverConfig `yaml:"driver,omitempty" json:"driver,omitempty"`
	GPU           *GPUConfig    `yaml:"gpu,omitempty" json:"gpu,omitempty"`
	Trace         *TraceConfig  `yaml:"trace,omitempty" json:"trace,omitempty"`
}

// DriverConfig configures the GPU driver session.
type DriverConfig struct {
	// Service is the driver service variant. Default: nvdrv:a
	Service string `yaml:"service" json:"service"`

	// TransferMemorySize is the size of the region lent to the driver.
	// Must be a multiple of 4 KiB. Default: 3 MiB
	TransferMemorySize int `yaml:"transfer_memory_size" json:"transfer_memory_size"`

	// LockMemory locks the region into RAM.
	LockMemory bool `yaml:"lock_memory" json:"lock_memory"`
}

// GPUConfig configures the buffer subsystem.
type GPUConfig struct {
	// MinAlignment is the smallest buffer alignment accepted. Zero
	// imposes no platform minimum.
	MinAlignment uint32 `yaml:"min_alignment" json:"min_alignment"`

	Devices DeviceConfig `yaml:"devices" json:"devices"`
}

// DeviceConfig names the device nodes the GPU opens.
type DeviceConfig struct {
	AddressSpace string `yaml:"address_space" json:"address_space"`
	Nvmap        string `yaml:"nvmap" json:"nvmap"`
	Ctrl         string `yaml:"ctrl" json:"ctrl"`
}

// TraceConfig configures IPC capture.
type TraceConfig struct {
	// Path is the capture file. Empty disables capture.
	Path string `yaml:"path" json:"path"`

	// Compression is none, lz4 or zstd. Default: zstd
	Compression string `yaml:"compression" json:"compression"`

	// FrameRecords is the number of records per frame. Zero uses the
	// capture default.
	FrameRecords int `yaml:"frame_records" json:"frame_records"`
}

// Default returns the configuration every file is layered on.
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Driver: DriverConfig{
			Service:            "nvdrv:a",
			TransferMemorySize: 3 << 20,
		},
		GPU: GPUConfig{
			Devices: DeviceConfig{
				AddressSpace: "/dev/nvhost-as-gpu",
				Nvmap:        "/dev/nvmap",
				Ctrl:         "/dev/nvhost-ctrl",
			},
		},
		Trace: TraceConfig{
			Compression: "zstd",
		},
	}
}

// Load loads the file named by HZN_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your horizon.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults, applies
// the environment section and expands variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
		if c.StrictRelease == nil {
			strict := true
			c.StrictRelease = &strict
		}
	case Production:
		overrides = c.Production
		if c.StrictRelease == nil {
			strict := false
			c.StrictRelease = &strict
		}
	}
	if overrides == nil {
		return
	}

	if overrides.StrictRelease != nil {
		strict := *overrides.StrictRelease
		c.StrictRelease = &strict
	}
	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}

	if overrides.Driver != nil {
		if overrides.Driver.Service != "" {
			c.Driver.Service = overrides.Driver.Service
		}
		if overrides.Driver.TransferMemorySize != 0 {
			c.Driver.TransferMemorySize = overrides.Driver.TransferMemorySize
		}
		// LockMemory is a bool, so it is always applied.
		c.Driver.LockMemory = overrides.Driver.LockMemory
	}

	if overrides.GPU != nil {
		if overrides.GPU.MinAlignment != 0 {
			c.GPU.MinAlignment = overrides.GPU.MinAlignment
		}
		if overrides.GPU.Devices.AddressSpace != "" {
			c.GPU.Devices.AddressSpace = overrides.GPU.Devices.AddressSpace
		}
		if overrides.GPU.Devices.Nvmap != "" {
			c.GPU.Devices.Nvmap = overrides.GPU.Devices.Nvmap
		}
		if overrides.GPU.Devices.Ctrl != "" {
			c.GPU.Devices.Ctrl = overrides.GPU.Devices.Ctrl
		}
	}

	if overrides.Trace != nil {
		if overrides.Trace.Path != "" {
			c.Trace.Path = overrides.Trace.Path
		}
		if overrides.Trace.Compression != "" {
			c.Trace.Compression = overrides.Trace.Compression
		}
		if overrides.Trace.FrameRecords != 0 {
			c.Trace.FrameRecords = overrides.Trace.FrameRecords
		}
	}
}

// StrictReleaseEnabled reports whether failed handle releases should
// panic.
func (c *Config) StrictReleaseEnabled() bool {
	return c.StrictRelease != nil && *c.StrictRelease
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":     os.Getenv("HOME"),
		"HZN_ROOT": os.Getenv("HZN_ROOT"),
	}
	c.Trace.Path = expandVars(c.Trace.Path, vars)
	c.GPU.Devices.AddressSpace = expandVars(c.GPU.Devices.AddressSpace, vars)
	c.GPU.Devices.Nvmap = expandVars(c.GPU.Devices.Nvmap, vars)
	c.GPU.Devices.Ctrl = expandVars(c.GPU.Devices.Ctrl, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", levels))
	}

	if c.Driver.Service == "" || len(c.Driver.Service) > 8 {
		errs = append(errs, fmt.Errorf("driver.service must be 1 to 8 bytes, got %q", c.Driver.Service))
	}
	if c.Driver.TransferMemorySize <= 0 || c.Driver.TransferMemorySize%0x1000 != 0 {
		errs = append(errs, fmt.Errorf("driver.transfer_memory_size must be a positive multiple of 4096, got %d",
			c.Driver.TransferMemorySize))
	}

	if align := c.GPU.MinAlignment; align&(align-1) != 0 {
		errs = append(errs, fmt.Errorf("gpu.min_alignment must be zero or a power of two, got %#x", align))
	}
	for _, device := range []struct{ name, path string }{
		{"address_space", c.GPU.Devices.AddressSpace},
		{"nvmap", c.GPU.Devices.Nvmap},
		{"ctrl", c.GPU.Devices.Ctrl},
	} {
		if device.path == "" {
			errs = append(errs, fmt.Errorf("gpu.devices.%s is required", device.name))
		}
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !slices.Contains(compressions, c.Trace.Compression) {
		errs = append(errs, fmt.Errorf("trace.compression must be one of: %v", compressions))
	}
	if c.Trace.FrameRecords < 0 {
		errs = append(errs, fmt.Errorf("trace.frame_records must not be negative"))
	}

	return errors.Join(errs...)
}
