package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/connectivity"
	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/installation"
	"github.com/core-tools/hsu-zapret-go/pkg/lifecycle"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"
	"github.com/core-tools/hsu-zapret-go/pkg/logging/zaplogging"
	"github.com/core-tools/hsu-zapret-go/pkg/processrunner"

	"gopkg.in/yaml.v3"
)

const DefaultListenAddress = "127.0.0.1:8765"

// Config represents the top-level configuration file structure
type Config struct {
	Installation InstallationConfig `yaml:"installation"`
	Process      ProcessConfig      `yaml:"process"`
	Probe        ProbeConfig        `yaml:"probe"`
	Control      ControlConfig      `yaml:"control"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// InstallationConfig controls discovery and the entry point names
type InstallationConfig struct {
	Candidates      []string `yaml:"candidates,omitempty"` // Overrides the platform search order
	Marker          string   `yaml:"marker,omitempty"`
	ScriptExtension string   `yaml:"script_extension,omitempty"`
	StopScript      string   `yaml:"stop_script,omitempty"`
	UpdateScript    string   `yaml:"update_script,omitempty"`
	ConfigFile      string   `yaml:"config_file,omitempty"`
}

type ProcessConfig struct {
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	KillOnTimeout  *bool         `yaml:"kill_on_timeout,omitempty"` // Pointer to distinguish unset from false
	KillGrace      time.Duration `yaml:"kill_grace,omitempty"`
	OutputGrace    time.Duration `yaml:"output_grace,omitempty"`
	Elevate        *bool         `yaml:"elevate,omitempty"`
	OutputEncoding string        `yaml:"output_encoding,omitempty"`
}

type ProbeConfig struct {
	Timeout   time.Duration         `yaml:"timeout,omitempty"`
	UserAgent string                `yaml:"user_agent,omitempty"`
	Targets   []connectivity.Target `yaml:"targets,omitempty"`
}

type ControlConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

type LoggingConfig struct {
	Level       string `yaml:"level,omitempty"`
	Format      string `yaml:"format,omitempty"`
	Development bool   `yaml:"development,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads configuration from a YAML file. An empty filename yields DefaultConfig.
func LoadConfigFromFile(filename string) (*Config, error) {
	if filename == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}
	return config, nil
}

// ParseConfig decodes YAML and applies defaults
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	setConfigDefaults(&config)
	return &config, nil
}

func setConfigDefaults(config *Config) {
	install := &config.Installation
	if len(install.Candidates) == 0 {
		install.Candidates = installation.DefaultCandidates()
	}
	if install.Marker == "" {
		install.Marker = installation.DefaultMarker
	}
	if install.ScriptExtension == "" {
		install.ScriptExtension = installation.DefaultScriptExtension
	}
	if install.StopScript == "" {
		install.StopScript = lifecycle.DefaultStopScript
	}
	if install.UpdateScript == "" {
		install.UpdateScript = lifecycle.DefaultUpdateScript
	}
	if install.ConfigFile == "" {
		install.ConfigFile = lifecycle.DefaultConfigFile
	}

	process := &config.Process
	if process.Timeout == 0 {
		process.Timeout = processrunner.DefaultTimeout
	}
	if process.KillOnTimeout == nil {
		kill := true
		process.KillOnTimeout = &kill
	}
	if process.KillGrace == 0 {
		process.KillGrace = processrunner.DefaultKillGrace
	}
	if process.OutputGrace == 0 {
		process.OutputGrace = processrunner.DefaultOutputGrace
	}
	if process.Elevate == nil {
		elevate := true
		process.Elevate = &elevate
	}

	probe := &config.Probe
	if probe.Timeout == 0 {
		probe.Timeout = connectivity.DefaultTimeout
	}
	if probe.UserAgent == "" {
		probe.UserAgent = connectivity.DefaultUserAgent
	}
	if len(probe.Targets) == 0 {
		probe.Targets = connectivity.DefaultTargets()
	}

	if config.Control.Listen == "" {
		config.Control.Listen = DefaultListenAddress
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateInstallationConfig(&config.Installation); err != nil {
		return errors.NewValidationError("invalid installation configuration", err)
	}
	if err := validateProcessConfig(&config.Process); err != nil {
		return errors.NewValidationError("invalid process configuration", err)
	}
	if err := validateProbeConfig(&config.Probe); err != nil {
		return errors.NewValidationError("invalid probe configuration", err)
	}
	if err := validateControlConfig(&config.Control); err != nil {
		return errors.NewValidationError("invalid control configuration", err)
	}
	if err := validateLoggingConfig(&config.Logging); err != nil {
		return errors.NewValidationError("invalid logging configuration", err)
	}
	return nil
}

func validateInstallationConfig(config *InstallationConfig) error {
	if strings.ContainsAny(config.Marker, `/\`) {
		return errors.NewValidationError("marker must be a file name", nil).WithContext("marker", config.Marker)
	}
	if config.ScriptExtension != "" && !strings.HasPrefix(config.ScriptExtension, ".") {
		return errors.NewValidationError("script extension must start with a dot", nil).
			WithContext("script_extension", config.ScriptExtension)
	}
	for _, name := range []string{config.StopScript, config.UpdateScript, config.ConfigFile} {
		if strings.ContainsAny(name, `/\`) {
			return errors.NewValidationError("entry point names must not contain path separators", nil).
				WithContext("name", name)
		}
	}
	return nil
}

func validateProcessConfig(config *ProcessConfig) error {
	if config.Timeout < 0 {
		return errors.NewValidationError(fmt.Sprintf("invalid process timeout: %v", config.Timeout), nil)
	}
	if config.KillGrace < 0 {
		return errors.NewValidationError(fmt.Sprintf("invalid kill grace: %v", config.KillGrace), nil)
	}
	if config.OutputGrace < 0 {
		return errors.NewValidationError(fmt.Sprintf("invalid output grace: %v", config.OutputGrace), nil)
	}
	if err := processrunner.ValidateEncoding(config.OutputEncoding); err != nil {
		return errors.NewValidationError(fmt.Sprintf("unsupported output encoding: %s", config.OutputEncoding), err).
			WithContext("supported", strings.Join(processrunner.SupportedEncodings(), ", "))
	}
	return nil
}

func validateProbeConfig(config *ProbeConfig) error {
	if config.Timeout < 0 {
		return errors.NewValidationError(fmt.Sprintf("invalid probe timeout: %v", config.Timeout), nil)
	}

	seen := make(map[string]int)
	for i, target := range config.Targets {
		name := strings.ToLower(strings.TrimSpace(target.Name))
		if name == "" {
			return errors.NewValidationError(fmt.Sprintf("empty probe target name at index %d", i), nil)
		}
		if prev, exists := seen[name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate probe target '%s' found at indices %d and %d", name, prev, i),
				nil,
			)
		}
		seen[name] = i

		parsed, err := url.Parse(target.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return errors.NewValidationError(fmt.Sprintf("invalid URL for probe target '%s'", name), err).
				WithContext("url", target.URL)
		}
	}
	return nil
}

func validateControlConfig(config *ControlConfig) error {
	if _, _, err := net.SplitHostPort(config.Listen); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid listen address: %s", config.Listen), err)
	}
	return nil
}

func validateLoggingConfig(config *LoggingConfig) error {
	switch config.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Level),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	switch config.Format {
	case "", "console", "json":
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid log format: %s", config.Format),
			nil,
		).WithContext("valid_formats", "console, json")
	}
	return nil
}

// Locator builds the installation locator described by the configuration
func (c *InstallationConfig) Locator(logger logging.Logger) *installation.Locator {
	return installation.NewLocator(c.Candidates, c.Marker, logger)
}

func (c *ProcessConfig) RunnerOptions() processrunner.Options {
	opts := processrunner.DefaultOptions()
	opts.Timeout = c.Timeout
	opts.KillGrace = c.KillGrace
	opts.OutputGrace = c.OutputGrace
	opts.OutputEncoding = c.OutputEncoding
	if c.KillOnTimeout != nil {
		opts.KillOnTimeout = *c.KillOnTimeout
	}
	return opts
}

func (c *ProcessConfig) ElevateEnabled() bool {
	return c.Elevate == nil || *c.Elevate
}

func (c *ProbeConfig) ProberOptions() connectivity.Options {
	return connectivity.Options{
		Timeout:   c.Timeout,
		UserAgent: c.UserAgent,
		Targets:   c.Targets,
	}
}

func (c *LoggingConfig) ZapOptions() zaplogging.Options {
	return zaplogging.Options{
		Level:       c.Level,
		Format:      c.Format,
		Development: c.Development,
	}
}
