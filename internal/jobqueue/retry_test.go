package jobqueue

import (
	"testing"
	"time"
)

func TestRetryDelayProgressionAndCap(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     250 * time.Millisecond,
	}

	if got := policy.NextDelay(1); got != 100*time.Millisecond {
		t.Fatalf("attempt 1 delay = %s, want 100ms", got)
	}
	if got := policy.NextDelay(2); got != 200*time.Millisecond {
		t.Fatalf("attempt 2 delay = %s, want 200ms", got)
	}
	if got := policy.NextDelay(3); got != 250*time.Millisecond {
		t.Fatalf("attempt 3 delay = %s, want capped 250ms", got)
	}
}

func TestRetryDelayClampsFirstAttemptIndex(t *testing.T) {
	policy := DefaultRetryPolicy()
	if got := policy.NextDelay(0); got != policy.InitialBackoff {
		t.Fatalf("attempt 0 delay = %s, want initial backoff %s", got, policy.InitialBackoff)
	}
}
