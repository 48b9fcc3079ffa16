// Package signalctx turns OS signals into a cancelable context, the way
// internal/cli's Execute uses it for spec §5's termination-on-signal
// exit handler.
package signalctx

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WithSignals returns a context derived from parent, a CancelFunc, and the
// channel that SIGHUP/SIGINT/SIGTERM are delivered on. The context is not
// canceled automatically: the caller owns sigCh and decides when to call
// cancel, so it can log which signal arrived before unwinding (internal/cli
// does exactly this at the command boundary).
func WithSignals(parent context.Context) (ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal) {
	ctx, cancel = context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return ctx, cancel, c
}
