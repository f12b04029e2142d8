package clock

import (
	"context"
	"time"

	testclockctx "github.com/nsiitk/killbill/internal/testclock/context"
)

type SystemClock struct{}

func (SystemClock) Now(ctx context.Context) time.Time {
	if t, ok := testclockctx.FromContext(ctx); ok {
		return t
	}
	return time.Now().UTC()
}
