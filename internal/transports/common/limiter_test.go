package common

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"devstash/internal/config"
	"devstash/internal/core"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(limit int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(limit, window)
	l.now = clock.now
	return l, clock
}

func TestRateLimiterWindow(t *testing.T) {
	l, clock := newClockedLimiter(2, time.Second)
	web := core.Subject{Source: "web", ID: "10.0.0.1"}
	if !l.Allow(web) {
		t.Fatalf("first should pass")
	}
	clock.advance(100 * time.Millisecond)
	if !l.Allow(web) {
		t.Fatalf("second should pass")
	}
	clock.advance(100 * time.Millisecond)
	if l.Allow(web) {
		t.Fatalf("third should be blocked")
	}
	clock.advance(2 * time.Second)
	if !l.Allow(web) {
		t.Fatalf("should pass after window")
	}
}

func TestRateLimiterEvictsIdleSubjects(t *testing.T) {
	l, clock := newClockedLimiter(5, time.Second)
	for _, host := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		l.Allow(core.Subject{Source: "web", ID: host})
	}
	if l.Subjects() != 3 {
		t.Fatalf("subjects = %d, want 3", l.Subjects())
	}
	clock.advance(3 * time.Second)
	l.Allow(core.Subject{Source: "web", ID: "10.0.0.9"})
	if l.Subjects() != 1 {
		t.Fatalf("idle subjects must be evicted, have %d", l.Subjects())
	}
}

func TestRateLimiterFromConfig(t *testing.T) {
	if NewRateLimiterFromConfig(config.RateLimit{}) != nil {
		t.Fatal("zero limit must disable the limiter")
	}
	l := NewRateLimiterFromConfig(config.RateLimit{Limit: 3, WindowMS: 250})
	if l == nil || l.limit != 3 || l.window != 250*time.Millisecond {
		t.Fatalf("unexpected limiter %#v", l)
	}
}

func TestServiceRateLimitRollsOver(t *testing.T) {
	limiter, clock := newClockedLimiter(1, time.Minute)
	svc := newService(t, map[string][]string{"ipc": {"echo"}}, limiter)
	args := json.RawMessage(`{"text":"x"}`)
	call := func(subject, id string) *core.Error {
		return svc.Invoke(context.Background(), subject, core.Invocation{ID: id, Command: "echo", Args: args}).Err
	}

	if err := call("a", "1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := call("a", "2"); err == nil || err.Kind != core.KindRateLimited {
		t.Fatalf("expected rate_limited, got %v", err)
	}
	if err := call("b", "3"); err != nil {
		t.Fatalf("other subject must not be limited: %v", err)
	}
	clock.advance(time.Minute + time.Millisecond)
	if err := call("a", "4"); err != nil {
		t.Fatalf("limit must reset after the window: %v", err)
	}
}
