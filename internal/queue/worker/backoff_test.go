package worker

import (
	"testing"
	"time"
)

func TestExponentialBackoffGrows(t *testing.T) {
	// jitter adds up to 250ms, so compare against the floor of each step
	floors := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for attempt, floor := range floors {
		got := ExponentialBackoff(attempt)

		if got < floor {
			t.Fatalf("attempt %d: backoff %v below floor %v", attempt, got, floor)
		}

		if got > floor+300*time.Millisecond {
			t.Fatalf("attempt %d: backoff %v too far above floor %v", attempt, got, floor)
		}
	}
}

func TestExponentialBackoffIsCapped(t *testing.T) {
	got := ExponentialBackoff(30)

	if got > 5*time.Minute+300*time.Millisecond {
		t.Fatalf("backoff must cap near 5 minutes, got %v", got)
	}
}
