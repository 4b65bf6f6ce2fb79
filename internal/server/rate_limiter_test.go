package server

import (
	"testing"
	"time"
)

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := newRateLimiter(5, time.Hour) // refill far too slow to matter here

	for i := 0; i < 5; i++ {
		if !rl.allow() {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if rl.allow() {
		t.Error("request beyond burst should be denied")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(2, 20*time.Millisecond)

	rl.allow()
	rl.allow()
	if rl.allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(30 * time.Millisecond)
	if !rl.allow() {
		t.Error("bucket should have refilled")
	}
}

func TestRateLimiterDefendsAgainstBadConfig(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if !rl.allow() {
		t.Error("zero-capacity config should clamp to a working limiter")
	}
}
