package signalctx

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestWithSignalsDeliversAndCancels(t *testing.T) {
	ctx, cancel, sigCh := WithSignals(context.Background())
	defer cancel()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("send signal: %v", err)
	}

	select {
	case sig := <-sigCh:
		if sig != syscall.SIGHUP {
			t.Fatalf("expected SIGHUP, got %v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}

	cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("context not canceled after explicit cancel")
	}
}
