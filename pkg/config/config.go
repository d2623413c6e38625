package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/dotdir"
	"github.com/papercomputeco/attend/pkg/entity"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// Storage drivers.
const (
	DriverInMemory = "inmemory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Event stream providers.
const (
	EventStreamNop   = "nop"
	EventStreamKafka = "kafka"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

type Configer struct {
	ddm        *dotdir.Manager
	targetDir  string
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .attend/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfger.targetDir = target
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns all supported configuration key names in the
// TOML section layout order.
func ValidConfigKeys() []string {
	result := make([]string, 0, len(configKeys))
	for _, k := range orderedKeys {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
		}
	}
	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// GetDir returns the resolved .attend/ directory.
func (c *Configer) GetDir() string {
	return c.targetDir
}

// LoadConfig loads the configuration from config.toml in the target .attend/
// directory. If the file does not exist, returns NewDefaultConfig() so
// callers always receive a fully-populated Config. Fields explicitly set in
// the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return ParseConfigTOML(data)
}

// SaveConfig persists the configuration to config.toml in the target .attend/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes on top of NewDefaultConfig().
// Map sections merge with the default maps; budget groups replace the
// default groups when present. Returns an error if the version field is
// present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}

// Validate checks the configuration before any service is built. serve
// refuses to start when it fails.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverInMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: storage.postgres_dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	if err := c.Ledger.validate(); err != nil {
		return err
	}

	if c.Budget.Total < 0 || c.Budget.SelfPool < 0 {
		return fmt.Errorf("%w: budget total and self_pool must not be negative", ErrInvalidConfig)
	}
	if err := budget.ValidateGroups(c.Budget.Groups); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, err := c.Scheduler.TickDuration(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Scheduler.Concurrency < 0 {
		return fmt.Errorf("%w: scheduler.concurrency must not be negative", ErrInvalidConfig)
	}

	switch c.EventStream.Provider {
	case EventStreamNop:
	case EventStreamKafka:
		if len(c.EventStream.BrokerList()) == 0 {
			return fmt.Errorf("%w: eventstream.brokers is required for the kafka provider", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown eventstream.provider %q", ErrInvalidConfig, c.EventStream.Provider)
	}

	return nil
}

func (l LedgerConfig) validate() error {
	factors := map[string]float64{
		"propagation_factor":        l.PropagationFactor,
		"global_propagation_factor": l.GlobalPropagationFactor,
		"spillover_factor":          l.SpilloverFactor,
		"warm_threshold":            l.WarmThreshold,
	}
	for name, f := range factors {
		if f < 0 {
			return fmt.Errorf("%w: ledger.%s must not be negative", ErrInvalidConfig, name)
		}
	}

	for name, rate := range map[string]float64{"decay_rate": l.DecayRate, "retention_rate": l.RetentionRate} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%w: ledger.%s must be within [0, 1]", ErrInvalidConfig, name)
		}
	}

	if l.MaxHops < 0 {
		return fmt.Errorf("%w: ledger.max_hops must not be negative", ErrInvalidConfig)
	}

	for cat, limit := range l.Caps {
		if !entity.Category(cat).Valid() {
			return fmt.Errorf("%w: ledger.caps names unknown category %q", ErrInvalidConfig, cat)
		}
		if limit < 0 {
			return fmt.Errorf("%w: ledger.caps.%s must not be negative", ErrInvalidConfig, cat)
		}
	}
	for kind, w := range l.Weights {
		if w < 0 {
			return fmt.Errorf("%w: ledger.weights.%s must not be negative", ErrInvalidConfig, kind)
		}
	}
	for space, m := range l.Focus {
		if m < 0 {
			return fmt.Errorf("%w: ledger.focus.%s must not be negative", ErrInvalidConfig, space)
		}
	}

	if _, err := l.DecayThresholdDuration(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := l.DecayCadenceDuration(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// CategoryCaps converts Caps to category keys.
func (l LedgerConfig) CategoryCaps() map[entity.Category]float64 {
	out := make(map[entity.Category]float64, len(l.Caps))
	for cat, limit := range l.Caps {
		out[entity.Category(cat)] = limit
	}
	return out
}
