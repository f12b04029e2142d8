package clock

import (
	"context"
	"time"
)

// Clock is the single source of "now" for the engine. Lifecycle operations,
// future-event scheduling and the dispatcher all compare against it, so tests
// can pin time through the simulated-clock context.
type Clock interface {
	Now(ctx context.Context) time.Time
}
