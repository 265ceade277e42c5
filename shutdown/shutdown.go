// Package shutdown turns termination signals into context cancellation.
package shutdown

import (
	"context"
	"os/signal"
)

// Context is cancelled on the first termination signal or when stop is
// called. A second signal falls through to the default handler.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
