package ledger

import (
	"time"

	"github.com/papercomputeco/attend/pkg/entity"
)

// EntryType is the kind of balance-changing event an Entry records.
type EntryType string

const (
	TypeEarn      EntryType = "earn"
	TypeSpend     EntryType = "spend"
	TypeRetain    EntryType = "retain"
	TypeDecay     EntryType = "decay"
	TypePropagate EntryType = "propagate"
	TypeSpillover EntryType = "spillover"
	TypeWarm      EntryType = "warm"
	TypeReset     EntryType = "reset"
)

// Direct reports whether entries of this type count as activity on the
// entity itself. Decay measures inactivity from the last direct entry.
func (t EntryType) Direct() bool {
	return t == TypeEarn || t == TypeWarm
}

// Entry is one immutable, append-only ledger transaction.
type Entry struct {
	ID        string     `json:"id"`
	EntityKey entity.Key `json:"entity_key"`
	Type      EntryType  `json:"type"`

	// Amount is signed: credits are positive, spends and decay negative.
	Amount float64 `json:"amount"`

	// Source is the entity whose earn caused a propagate or spillover entry.
	Source *entity.Key `json:"source,omitempty"`

	// Reason is opaque provenance supplied by the caller.
	Reason string `json:"reason,omitempty"`

	// RunID tags spend and retain entries with the pipeline run.
	RunID string `json:"run_id,omitempty"`

	// Token is an optional idempotency token, unique across the ledger.
	Token string `json:"token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Account is a point-in-time view of one entity's ledger.
type Account struct {
	Key     entity.Key `json:"key"`
	Balance float64    `json:"balance"`

	// LastActivity is the time of the newest direct entry, zero if none.
	LastActivity time.Time `json:"last_activity"`

	Entries int `json:"entries"`
}
