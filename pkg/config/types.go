package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/attend/pkg/budget"
)

// Config represents the persistent attend configuration stored as
// config.toml in the .attend/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Budget      BudgetConfig      `toml:"budget"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Pipelines   PipelinesConfig   `toml:"pipelines"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// StorageConfig selects and locates the storage driver.
type StorageConfig struct {
	// Driver is one of inmemory, sqlite or postgres.
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running
// attend serve (e.g. attend trigger). Values are full URLs.
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// LedgerConfig holds the ledger, propagation and decay tunables.
type LedgerConfig struct {
	// Caps is the balance cap per category.
	Caps map[string]float64 `toml:"caps,omitempty"`

	// Weights maps activity kinds to earn amounts.
	Weights map[string]float64 `toml:"weights,omitempty"`

	// Focus multiplies earns on entities scoped to the given container ids.
	Focus map[string]float64 `toml:"focus,omitempty"`

	PropagationFactor       float64 `toml:"propagation_factor"`
	GlobalPropagationFactor float64 `toml:"global_propagation_factor"`
	SpilloverFactor         float64 `toml:"spillover_factor"`
	WarmThreshold           float64 `toml:"warm_threshold"`
	MaxHops                 int     `toml:"max_hops,omitempty"`

	// DecayThreshold and DecayCadence are Go durations ("168h").
	DecayThreshold string  `toml:"decay_threshold,omitempty"`
	DecayRate      float64 `toml:"decay_rate"`
	DecayCadence   string  `toml:"decay_cadence,omitempty"`

	RetentionRate float64 `toml:"retention_rate"`
}

// BudgetConfig holds the per-cycle budget and its groups.
type BudgetConfig struct {
	Total    float64        `toml:"total"`
	SelfPool float64        `toml:"self_pool"`
	Groups   []budget.Group `toml:"groups,omitempty"`
}

// SchedulerConfig holds the serve loop settings.
type SchedulerConfig struct {
	// Tick is how often due pipelines are looked for, as a Go duration.
	Tick string `toml:"tick,omitempty"`

	// Concurrency bounds targets processed in parallel per run.
	Concurrency int `toml:"concurrency,omitempty"`

	// Decay runs the decay sweep from the serve loop.
	Decay bool `toml:"decay"`
}

// PipelinesConfig locates pipeline definitions.
type PipelinesConfig struct {
	// Dir holds one pipeline definition per .toml file. Empty resolves to
	// pipelines/ in the .attend/ directory.
	Dir string `toml:"dir,omitempty"`

	// Watch reloads definitions when files in Dir change.
	Watch bool `toml:"watch"`
}

// EventStreamConfig selects the run event publisher.
type EventStreamConfig struct {
	// Provider is nop or kafka.
	Provider string `toml:"provider,omitempty"`

	// Brokers is a comma separated list of kafka brokers.
	Brokers       string `toml:"brokers,omitempty"`
	RunTopic      string `toml:"run_topic,omitempty"`
	ArtifactTopic string `toml:"artifact_topic,omitempty"`
}

// BrokerList splits Brokers on commas.
func (e EventStreamConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// DecayThresholdDuration parses DecayThreshold.
func (l LedgerConfig) DecayThresholdDuration() (time.Duration, error) {
	return parseDuration("ledger.decay_threshold", l.DecayThreshold)
}

// DecayCadenceDuration parses DecayCadence.
func (l LedgerConfig) DecayCadenceDuration() (time.Duration, error) {
	return parseDuration("ledger.decay_cadence", l.DecayCadence)
}

// TickDuration parses Tick.
func (s SchedulerConfig) TickDuration() (time.Duration, error) {
	return parseDuration("scheduler.tick", s.Tick)
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid value for %s: must be positive", key)
	}
	return d, nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatFloat(*field(c), 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

// configKeys is the authoritative map of all scalar config keys. Keys use
// dotted notation matching the TOML section structure. Map and table
// values (caps, weights, focus, budget groups) are edited in the file.
var configKeys = map[string]configKeyInfo{
	"storage.driver":       stringKey(func(c *Config) *string { return &c.Storage.Driver }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"api.listen":        stringKey(func(c *Config) *string { return &c.API.Listen }),
	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),

	"ledger.propagation_factor": floatKey("ledger.propagation_factor",
		func(c *Config) *float64 { return &c.Ledger.PropagationFactor }),
	"ledger.global_propagation_factor": floatKey("ledger.global_propagation_factor",
		func(c *Config) *float64 { return &c.Ledger.GlobalPropagationFactor }),
	"ledger.spillover_factor": floatKey("ledger.spillover_factor",
		func(c *Config) *float64 { return &c.Ledger.SpilloverFactor }),
	"ledger.warm_threshold": floatKey("ledger.warm_threshold",
		func(c *Config) *float64 { return &c.Ledger.WarmThreshold }),
	"ledger.max_hops": intKey("ledger.max_hops",
		func(c *Config) *int { return &c.Ledger.MaxHops }),
	"ledger.decay_threshold": stringKey(func(c *Config) *string { return &c.Ledger.DecayThreshold }),
	"ledger.decay_rate": floatKey("ledger.decay_rate",
		func(c *Config) *float64 { return &c.Ledger.DecayRate }),
	"ledger.decay_cadence": stringKey(func(c *Config) *string { return &c.Ledger.DecayCadence }),
	"ledger.retention_rate": floatKey("ledger.retention_rate",
		func(c *Config) *float64 { return &c.Ledger.RetentionRate }),

	"budget.total": floatKey("budget.total",
		func(c *Config) *float64 { return &c.Budget.Total }),
	"budget.self_pool": floatKey("budget.self_pool",
		func(c *Config) *float64 { return &c.Budget.SelfPool }),

	"scheduler.tick": stringKey(func(c *Config) *string { return &c.Scheduler.Tick }),
	"scheduler.concurrency": intKey("scheduler.concurrency",
		func(c *Config) *int { return &c.Scheduler.Concurrency }),
	"scheduler.decay": boolKey("scheduler.decay",
		func(c *Config) *bool { return &c.Scheduler.Decay }),

	"pipelines.dir": stringKey(func(c *Config) *string { return &c.Pipelines.Dir }),
	"pipelines.watch": boolKey("pipelines.watch",
		func(c *Config) *bool { return &c.Pipelines.Watch }),

	"eventstream.provider":       stringKey(func(c *Config) *string { return &c.EventStream.Provider }),
	"eventstream.brokers":        stringKey(func(c *Config) *string { return &c.EventStream.Brokers }),
	"eventstream.run_topic":      stringKey(func(c *Config) *string { return &c.EventStream.RunTopic }),
	"eventstream.artifact_topic": stringKey(func(c *Config) *string { return &c.EventStream.ArtifactTopic }),
}

// orderedKeys lists configKeys in the TOML section layout order.
var orderedKeys = []string{
	"storage.driver",
	"storage.sqlite_path",
	"storage.postgres_dsn",
	"api.listen",
	"client.api_target",
	"ledger.propagation_factor",
	"ledger.global_propagation_factor",
	"ledger.spillover_factor",
	"ledger.warm_threshold",
	"ledger.max_hops",
	"ledger.decay_threshold",
	"ledger.decay_rate",
	"ledger.decay_cadence",
	"ledger.retention_rate",
	"budget.total",
	"budget.self_pool",
	"scheduler.tick",
	"scheduler.concurrency",
	"scheduler.decay",
	"pipelines.dir",
	"pipelines.watch",
	"eventstream.provider",
	"eventstream.brokers",
	"eventstream.run_topic",
	"eventstream.artifact_topic",
}
