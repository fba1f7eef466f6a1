// Package config handles configuration loading and validation for the
// replication scheduler.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/replicator/pkg/health"
	"github.com/cuemby/replicator/pkg/strategy"
	"github.com/cuemby/replicator/pkg/topology"
	"github.com/cuemby/replicator/pkg/types"
	"gopkg.in/yaml.v3"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// SchedulerConfig holds the scheduling tunables.
type SchedulerConfig struct {
	ObservationWindow     time.Duration `yaml:"observation_window"`
	HopSigma              float64       `yaml:"hop_sigma"`
	SchedulingType        string        `yaml:"scheduling_type"` // File or Throughput
	ActiveStrategies      []string      `yaml:"active_strategies"`
	AcceptableFailureRate *float64      `yaml:"acceptable_failure_rate"` // percent, default 75
	Seed                  uint64        `yaml:"seed"`                    // 0 seeds from the clock
}

// SEStatusConfig holds the per-access-mode status of a storage element.
type SEStatusConfig struct {
	Read  string `yaml:"read"`
	Write string `yaml:"write"`
}

// StorageElementConfig describes one storage element.
type StorageElementConfig struct {
	Site     string         `yaml:"site"`
	Sites    []string       `yaml:"sites"`
	Status   SEStatusConfig `yaml:"status"`
	Endpoint string         `yaml:"endpoint"`
	Protocol string         `yaml:"protocol"`
}

// ProbeConfig holds the storage element endpoint probing settings.
type ProbeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// Config is the replicator configuration file.
type Config struct {
	DataDir         string                          `yaml:"data_dir"`
	Interval        time.Duration                   `yaml:"interval"`
	MetricsAddr     string                          `yaml:"metrics_addr"`
	Log             LogConfig                       `yaml:"log"`
	Scheduler       SchedulerConfig                 `yaml:"scheduler"`
	Probe           ProbeConfig                     `yaml:"probe"`
	StorageElements map[string]StorageElementConfig `yaml:"storage_elements"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./replicator-data"
	}
	// Expand home directory in data dir
	if strings.HasPrefix(c.DataDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(homeDir, c.DataDir[2:])
		}
	}
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Scheduler.ObservationWindow == 0 {
		c.Scheduler.ObservationWindow = time.Hour
	}
	if c.Scheduler.SchedulingType == "" {
		c.Scheduler.SchedulingType = string(strategy.SchedulingFile)
	}
	if len(c.Scheduler.ActiveStrategies) == 0 {
		c.Scheduler.ActiveStrategies = []string{string(strategy.MinimiseTotalWait)}
	}
	defaults := health.DefaultConfig()
	if c.Probe.Interval == 0 {
		c.Probe.Interval = defaults.Interval
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = defaults.Timeout
	}
	if c.Probe.Retries == 0 {
		c.Probe.Retries = defaults.Retries
	}
	if c.Scheduler.AcceptableFailureRate == nil {
		rate := 75.0
		c.Scheduler.AcceptableFailureRate = &rate
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Scheduler.ObservationWindow < 0 {
		return fmt.Errorf("scheduler.observation_window must be positive")
	}
	if _, err := c.StrategyConfig(); err != nil {
		return err
	}
	if c.Probe.Interval < 0 || c.Probe.Timeout < 0 || c.Probe.Retries < 0 {
		return fmt.Errorf("probe: interval, timeout and retries must not be negative")
	}
	for name, se := range c.StorageElements {
		if len(se.sites()) == 0 {
			return fmt.Errorf("storage element %s: site is required", name)
		}
		if c.Probe.Enabled && se.Endpoint != "" {
			if _, err := health.ForEndpoint(se.Endpoint, c.Probe.Timeout); err != nil {
				return fmt.Errorf("storage element %s: %w", name, err)
			}
		}
		for _, status := range []string{se.Status.Read, se.Status.Write} {
			if status != "" && !validStatus(types.SEStatus(status)) {
				return fmt.Errorf("storage element %s: unknown status %q", name, status)
			}
		}
	}
	return nil
}

// StrategyConfig converts the scheduler section into the strategy
// handler configuration.
func (c *Config) StrategyConfig() (strategy.Config, error) {
	cfg := strategy.Config{
		HopSigma:       c.Scheduler.HopSigma,
		SchedulingType: strategy.SchedulingType(c.Scheduler.SchedulingType),
	}
	if c.Scheduler.AcceptableFailureRate != nil {
		cfg.AcceptableFailureRate = *c.Scheduler.AcceptableFailureRate
	}
	for _, raw := range c.Scheduler.ActiveStrategies {
		spec, err := strategy.Parse(raw)
		if err != nil {
			return strategy.Config{}, fmt.Errorf("scheduler.active_strategies: %w", err)
		}
		cfg.ActiveStrategies = append(cfg.ActiveStrategies, spec)
	}
	if err := cfg.Validate(); err != nil {
		return strategy.Config{}, fmt.Errorf("scheduler: %w", err)
	}
	return cfg, nil
}

// Topology builds the storage element table.
func (c *Config) Topology() *topology.Topology {
	names := make([]string, 0, len(c.StorageElements))
	for name := range c.StorageElements {
		names = append(names, name)
	}
	sort.Strings(names)

	ses := make([]topology.StorageElement, 0, len(names))
	for _, name := range names {
		se := c.StorageElements[name]
		ses = append(ses, topology.StorageElement{
			Name:        name,
			Sites:       se.sites(),
			ReadStatus:  types.SEStatus(se.Status.Read),
			WriteStatus: types.SEStatus(se.Status.Write),
			Endpoint:    se.Endpoint,
			Protocol:    se.Protocol,
		})
	}
	return topology.New(ses)
}

// ProbeTargets builds one endpoint probe per storage element with an
// endpoint. It returns nothing when probing is disabled.
func (c *Config) ProbeTargets() ([]health.Target, error) {
	if !c.Probe.Enabled {
		return nil, nil
	}
	names := make([]string, 0, len(c.StorageElements))
	for name, se := range c.StorageElements {
		if se.Endpoint != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	targets := make([]health.Target, 0, len(names))
	for _, name := range names {
		checker, err := health.ForEndpoint(c.StorageElements[name].Endpoint, c.Probe.Timeout)
		if err != nil {
			return nil, fmt.Errorf("storage element %s: %w", name, err)
		}
		targets = append(targets, health.Target{SE: name, Checker: checker})
	}
	return targets, nil
}

// HealthConfig converts the probe section into the monitor policy.
func (c *Config) HealthConfig() health.Config {
	return health.Config{
		Interval: c.Probe.Interval,
		Timeout:  c.Probe.Timeout,
		Retries:  c.Probe.Retries,
	}
}

func (se StorageElementConfig) sites() []string {
	var sites []string
	if se.Site != "" {
		sites = append(sites, se.Site)
	}
	for _, s := range se.Sites {
		if s != "" && s != se.Site {
			sites = append(sites, s)
		}
	}
	return sites
}

func validStatus(s types.SEStatus) bool {
	switch s {
	case types.SEStatusActive, types.SEStatusBad, types.SEStatusProbing, types.SEStatusBanned:
		return true
	}
	return false
}
