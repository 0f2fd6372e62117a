package reaper

import (
	"context"
	"time"
)

// Sessions is the manager surface the reaper drives.
type Sessions interface {
	Reconcile(ctx context.Context) error
	IdleSessionIDs(now time.Time) []string
	CloseExpired(ctx context.Context, id string) error
	StuckSessionIDs() []string
	RetryTeardown(ctx context.Context, id string) error
}
