package config

import (
	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/entity"
)

const (
	defaultStorageDriver = "sqlite"
	defaultAPIListen     = ":8081"

	defaultClientAPITarget = "http://localhost:8081"

	defaultPropagationFactor       = 0.3
	defaultGlobalPropagationFactor = 0.1
	defaultSpilloverFactor         = 0.5
	defaultWarmThreshold           = 1.0
	defaultMaxHops                 = 1
	defaultDecayThreshold          = "168h"
	defaultDecayRate               = 0.01
	defaultDecayCadence            = "24h"
	defaultRetentionRate           = 0.1

	defaultBudgetTotal    = 100.0
	defaultBudgetSelfPool = 10.0
	defaultEstimatedCost  = 10.0

	defaultSchedulerTick        = "1m"
	defaultSchedulerConcurrency = 4

	defaultEventStreamProvider = "nop"
	defaultRunTopic            = "attend.runs"
	defaultArtifactTopic       = "attend.artifacts"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		Ledger: LedgerConfig{
			Caps: map[string]float64{
				string(entity.CategoryPerson): 100,
				string(entity.CategoryPair):   100,
				string(entity.CategorySpace):  200,
				string(entity.CategoryTheme):  100,
				string(entity.CategorySelf):   50,
			},
			Weights: map[string]float64{
				"message":  1,
				"reaction": 0.5,
				"reply":    1.5,
				"mention":  2,
			},
			PropagationFactor:       defaultPropagationFactor,
			GlobalPropagationFactor: defaultGlobalPropagationFactor,
			SpilloverFactor:         defaultSpilloverFactor,
			WarmThreshold:           defaultWarmThreshold,
			MaxHops:                 defaultMaxHops,
			DecayThreshold:          defaultDecayThreshold,
			DecayRate:               defaultDecayRate,
			DecayCadence:            defaultDecayCadence,
			RetentionRate:           defaultRetentionRate,
		},
		Budget: BudgetConfig{
			Total:    defaultBudgetTotal,
			SelfPool: defaultBudgetSelfPool,
			Groups:   DefaultGroups(),
		},
		Scheduler: SchedulerConfig{
			Tick:        defaultSchedulerTick,
			Concurrency: defaultSchedulerConcurrency,
			Decay:       true,
		},
		Pipelines: PipelinesConfig{
			Watch: true,
		},
		EventStream: EventStreamConfig{
			Provider:      defaultEventStreamProvider,
			RunTopic:      defaultRunTopic,
			ArtifactTopic: defaultArtifactTopic,
		},
	}
}

// DefaultGroups is the stock partition: spaces, social relationships and
// themes share the budget; the self group draws from its own pool.
func DefaultGroups() []budget.Group {
	return []budget.Group{
		{
			Name:          "spaces",
			Fraction:      0.3,
			Categories:    []entity.Category{entity.CategorySpace},
			Pipeline:      "space_digest",
			EstimatedCost: defaultEstimatedCost,
		},
		{
			Name:          "social",
			Fraction:      0.4,
			Categories:    []entity.Category{entity.CategoryPerson, entity.CategoryPair},
			Pipeline:      "social_digest",
			EstimatedCost: defaultEstimatedCost,
		},
		{
			Name:          "themes",
			Fraction:      0.3,
			Categories:    []entity.Category{entity.CategoryTheme},
			Pipeline:      "theme_digest",
			EstimatedCost: defaultEstimatedCost,
		},
		{
			Name:          budget.SelfGroup,
			Categories:    []entity.Category{entity.CategorySelf},
			Pipeline:      "self_reflection",
			EstimatedCost: defaultEstimatedCost,
		},
	}
}
