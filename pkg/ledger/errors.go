package ledger

import (
	"errors"
	"fmt"

	"github.com/papercomputeco/attend/pkg/entity"
)

var (
	// ErrNegativeAmount is returned for earn, spend or warm calls with a
	// negative (or NaN) amount.
	ErrNegativeAmount = errors.New("amount must be a non-negative number")

	// ErrUnknownActivity is returned by Record for an activity kind with no
	// configured weight.
	ErrUnknownActivity = errors.New("unknown activity kind")
)

// UnknownEntityError is returned when an operation other than an earn
// references an entity the registry has never seen.
type UnknownEntityError struct {
	Key entity.Key
}

func (e UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity: %s", e.Key)
}

// IsUnknownEntity reports whether err is, or wraps, an UnknownEntityError.
func IsUnknownEntity(err error) bool {
	var target UnknownEntityError
	return errors.As(err, &target)
}
