package timeouts

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigure_IgnoresZero(t *testing.T) {
	t.Cleanup(Reset)

	Configure(Config{Short: 7 * time.Second, Geolocation: 3 * time.Second})
	if Short() != 7*time.Second {
		t.Errorf("Short() = %v, want 7s", Short())
	}
	if Geolocation() != 3*time.Second {
		t.Errorf("Geolocation() = %v, want 3s", Geolocation())
	}
	if Medium() != DefaultMedium {
		t.Errorf("Medium() = %v, want default %v", Medium(), DefaultMedium)
	}

	Reset()
	if got := Current(); got.Geolocation != DefaultGeolocation || got.Short != DefaultShort {
		t.Errorf("Reset did not restore defaults: %+v", got)
	}
}

func TestWithTimeout_LogsDeadline(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	ctx, cancel := WithTimeout(context.Background(), time.Millisecond, log, "delete map")
	<-ctx.Done()
	cancel()

	if logs.Len() != 1 {
		t.Fatalf("expected 1 warning, got %d", logs.Len())
	}
	if op := logs.All()[0].ContextMap()["operation"]; op != "delete map" {
		t.Errorf("operation field = %v", op)
	}

	ctx, cancel = WithTimeout(context.Background(), time.Minute, log, "quick")
	cancel()
	<-ctx.Done()
	if logs.Len() != 1 {
		t.Errorf("cancel before deadline should not log")
	}
}
