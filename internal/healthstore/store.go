package healthstore

import (
	"context"
	"time"
)

// RecordKey is the logical key under which the primary origin's status is
// persisted in the shared store.
const RecordKey = "primary_status"

// DefaultTTL is how long a written status stays valid before the record
// expires back to Unknown.
const DefaultTTL = 600 * time.Second

// Status is the cached health of the primary origin. An absent record and a
// failed read both surface as StatusUnknown; routing treats Unknown the same
// as Up, so the proxy fails open toward the primary.
type Status int

const (
	StatusUnknown Status = iota
	StatusUp
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// ParseStatus maps a stored value back to a Status. Anything unrecognized
// (including the empty string) is Unknown.
func ParseStatus(v string) Status {
	switch v {
	case "up":
		return StatusUp
	case "down":
		return StatusDown
	default:
		return StatusUnknown
	}
}

// Healthy reports whether routing should target the primary origin.
func (s Status) Healthy() bool {
	return s != StatusDown
}

// Store persists the primary origin's health record with a TTL. Both
// operations may fail; callers must treat failures as recoverable (reads
// fall open to Unknown, writes are best-effort).
type Store interface {
	// Status returns the cached status. An expired or absent record is
	// StatusUnknown with a nil error; a store-level failure returns
	// StatusUnknown with the error.
	Status(ctx context.Context) (Status, error)

	// SetStatus overwrites the record unconditionally. Last writer wins;
	// no compare-and-swap is needed because staleness within the TTL is
	// tolerated by design.
	SetStatus(ctx context.Context, s Status, ttl time.Duration) error
}
