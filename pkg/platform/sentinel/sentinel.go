package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and directory clients
// return these (optionally wrapped); services translate them into faults and
// the boundary mapper recognizes any that slip through.
//
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: a uniqueness constraint would be violated
//   - ErrAlreadyUsed: a single-use value was already consumed
//   - ErrInvalidState: entity in wrong state for the requested operation
//   - ErrUnavailable: collaborator temporarily unavailable
//
// Caller input problems are faults.Validation, not sentinels.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
