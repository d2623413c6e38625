// Package storage
package storage

import (
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/registry"
)

// Driver defines the interface for persisting the attention ledger, the
// entity registry and pipeline run records in a storage backend.
//
// Ledger entries are append-only: a Driver never updates or deletes an
// entry. Balances are derived from the entries on read.
type Driver interface {
	ledger.Store
	registry.Store
	pipeline.RunStore

	// Close closes the store and releases any resources.
	Close() error
}
