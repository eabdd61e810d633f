package scanner

import (
	"context"

	"chatwarden/model"
)

// Compensator performs the platform side of an expiry after the state
// change has been committed.
type Compensator interface {
	CompensateExpiry(ctx context.Context, p model.Punishment) error
}

// Purger drops stored activity older than a cutoff in unix milliseconds.
type Purger interface {
	PurgeBefore(ctx context.Context, beforeMs int64) (int64, error)
}

// Sweeper is an owned TTL memo that needs periodic sweeping.
type Sweeper interface {
	Sweep() int
}

// PassResult summarises one expiry pass.
type PassResult struct {
	Chats    int
	Seen     int
	Closed   int
	RaceLost int
	Errors   int
}
