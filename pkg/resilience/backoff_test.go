package resilience

import (
	"math"
	"testing"
	"time"
)

func TestExponential(t *testing.T) {
	tests := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{base: 100 * time.Millisecond, attempt: 0, want: 100 * time.Millisecond},
		{base: 100 * time.Millisecond, attempt: 3, want: 800 * time.Millisecond},
		{base: 100 * time.Millisecond, attempt: -1, want: 100 * time.Millisecond},
		{base: 0, attempt: 4, want: 0},
		{base: time.Hour, attempt: 100, want: time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		if got := exponential(tt.base, tt.attempt); got != tt.want {
			t.Fatalf("exponential(%v, %d) = %v, want %v", tt.base, tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffForIsCappedAndJittered(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := backoffFor(100*time.Millisecond, 250*time.Millisecond, 5)
		if d < 0 || d >= 250*time.Millisecond {
			t.Fatalf("backoff %v outside [0, 250ms)", d)
		}
	}
	if d := fullJitter(0); d != 0 {
		t.Fatalf("expected zero jitter for zero delay, got %v", d)
	}
}
