package backoff_test

import (
	"testing"
	"time"

	"github.com/ricmsdev/eventcad-sub001/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestLinear_GrowsLinearly(t *testing.T) {
	l := backoff.NewLinear(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{5, 5 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestLinear_CapsAtMax(t *testing.T) {
	l := backoff.NewLinear(time.Second, 5*time.Second)

	if got := l.Delay(10); got != 5*time.Second {
		t.Errorf("Delay(10) = %v, want %v (capped at Max)", got, 5*time.Second)
	}
	if got := l.Delay(100); got != 5*time.Second {
		t.Errorf("Delay(100) = %v, want %v (capped at Max)", got, 5*time.Second)
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(2*time.Minute, 24*time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Minute},  // 2 * 2^0
		{2, 4 * time.Minute},  // 2 * 2^1
		{3, 8 * time.Minute},  // 2 * 2^2
		{4, 16 * time.Minute}, // 2 * 2^3
		{5, 32 * time.Minute}, // 2 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(2*time.Minute, 24*time.Hour)

	// 2^11 minutes = ~34h, past the cap.
	if got := e.Delay(11); got != 24*time.Hour {
		t.Errorf("Delay(11) = %v, want %v (capped at Max)", got, 24*time.Hour)
	}
	// Far past float overflow territory the cap must still hold.
	if got := e.Delay(500); got != 24*time.Hour {
		t.Errorf("Delay(500) = %v, want %v (capped at Max)", got, 24*time.Hour)
	}
}

func TestExponential_MonotonicBelowCap(t *testing.T) {
	e := backoff.NewExponential(2*time.Minute, 24*time.Hour)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 9; attempt++ {
		got := e.Delay(attempt)
		if got <= prev {
			t.Errorf("Delay(%d) = %v, not greater than Delay(%d) = %v", attempt, got, attempt-1, prev)
		}
		prev = got
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Hour)

	for attempt := 1; attempt <= 10; attempt++ {
		maxDelay := time.Duration(1<<uint(attempt-1)) * time.Second
		for range 20 {
			got := e.Delay(attempt)
			if got < 0 || got > maxDelay {
				t.Errorf("Delay(%d) = %v, want within [0, %v]", attempt, got, maxDelay)
			}
		}
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()

	if got := s.Delay(1); got != 2*time.Minute {
		t.Errorf("Delay(1) = %v, want %v", got, 2*time.Minute)
	}
	if got := s.Delay(2); got != 4*time.Minute {
		t.Errorf("Delay(2) = %v, want %v", got, 4*time.Minute)
	}
	if got := s.Delay(100); got != backoff.DefaultMaxDelay {
		t.Errorf("Delay(100) = %v, want cap %v", got, backoff.DefaultMaxDelay)
	}
}
