// Package budget partitions a fixed per-cycle attention budget across
// budget groups and selects which entities each group's pipeline runs on.
package budget

import (
	"errors"
	"fmt"
	"math"

	"github.com/papercomputeco/attend/pkg/entity"
)

// SelfGroup is the name of the group pooled separately from the shared
// budget with its own absolute allowance.
const SelfGroup = "self"

const fractionTolerance = 0.001

var (
	// ErrUnknownGroup is returned when selecting for a group that is not
	// configured.
	ErrUnknownGroup = errors.New("unknown budget group")

	// ErrInvalidGroups is wrapped by every group configuration failure.
	ErrInvalidGroups = errors.New("invalid budget groups")
)

// Group is one partition of the budget.
type Group struct {
	Name string `toml:"name" json:"name"`

	// Fraction of the shared budget. Ignored for the self group.
	Fraction float64 `toml:"fraction" json:"fraction"`

	Categories []entity.Category `toml:"categories" json:"categories"`

	// Pipeline processes the group's selected entities.
	Pipeline string `toml:"pipeline" json:"pipeline"`

	// EstimatedCost is the budget charged per admitted entity.
	EstimatedCost float64 `toml:"estimated_cost" json:"estimated_cost"`
}

// ValidateGroups checks that the shared fractions sum to 1, that every
// category belongs to exactly one group and that costs are non-negative.
func ValidateGroups(groups []Group) error {
	seen := make(map[string]bool)
	owner := make(map[entity.Category]string)
	sum := 0.0
	shared := 0

	for _, g := range groups {
		if g.Name == "" {
			return fmt.Errorf("%w: group without a name", ErrInvalidGroups)
		}
		if seen[g.Name] {
			return fmt.Errorf("%w: group %q defined twice", ErrInvalidGroups, g.Name)
		}
		seen[g.Name] = true

		if g.Fraction < 0 || g.EstimatedCost < 0 {
			return fmt.Errorf("%w: group %q has a negative fraction or cost", ErrInvalidGroups, g.Name)
		}

		for _, cat := range g.Categories {
			if !cat.Valid() {
				return fmt.Errorf("%w: group %q lists unknown category %q", ErrInvalidGroups, g.Name, cat)
			}
			if prev, ok := owner[cat]; ok {
				return fmt.Errorf("%w: category %q is in both %q and %q", ErrInvalidGroups, cat, prev, g.Name)
			}
			owner[cat] = g.Name
		}

		if g.Name != SelfGroup {
			sum += g.Fraction
			shared++
		}
	}

	for _, cat := range entity.Categories() {
		if _, ok := owner[cat]; !ok {
			return fmt.Errorf("%w: category %q has no group", ErrInvalidGroups, cat)
		}
	}

	if shared > 0 && math.Abs(sum-1) > fractionTolerance {
		return fmt.Errorf("%w: shared fractions sum to %.4f, want 1.0", ErrInvalidGroups, sum)
	}
	return nil
}

// CategoryGroups maps each category to the name of its group.
func CategoryGroups(groups []Group) map[entity.Category]string {
	out := make(map[entity.Category]string)
	for _, g := range groups {
		for _, cat := range g.Categories {
			out[cat] = g.Name
		}
	}
	return out
}
