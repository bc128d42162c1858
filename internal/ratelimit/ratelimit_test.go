package ratelimit

import (
	"testing"
	"time"
)

func TestUnconfiguredEndpointIsNeverLimited(t *testing.T) {
	l := New(map[string]Rate{"/search": PerSecond(1)})
	for i := 0; i < 100; i++ {
		d := l.Allow("/ask", "1.2.3.4")
		if !d.Allowed {
			t.Fatalf("expected an unconfigured endpoint to always be allowed, call %d was rejected", i)
		}
	}
}

func TestAdmitsUnderLimitAndRejectsOver(t *testing.T) {
	l := New(map[string]Rate{"/search": PerSecond(2)})

	first := l.Allow("/search", "1.2.3.4")
	second := l.Allow("/search", "1.2.3.4")
	if !first.Allowed || !second.Allowed {
		t.Fatalf("expected the first two calls within burst to be allowed: %+v %+v", first, second)
	}

	third := l.Allow("/search", "1.2.3.4")
	if third.Allowed {
		t.Fatal("expected the third call beyond burst to be rejected")
	}
	if third.RetryAfter <= 0 {
		t.Error("expected a positive retry-after hint on rejection")
	}
}

func TestClientsAreIsolated(t *testing.T) {
	l := New(map[string]Rate{"/search": PerSecond(1)})

	a1 := l.Allow("/search", "client-a")
	b1 := l.Allow("/search", "client-b")
	if !a1.Allowed || !b1.Allowed {
		t.Fatalf("expected distinct clients to each get their own bucket: %+v %+v", a1, b1)
	}
}

func TestTrimRemovesStaleBuckets(t *testing.T) {
	l := New(map[string]Rate{"/search": PerSecond(1)})
	l.Allow("/search", "client-a")

	l.mu.Lock()
	for _, b := range l.buckets {
		b.lastSeen = time.Now().Add(-2 * staleAfter)
	}
	l.mu.Unlock()

	removed := l.Trim()
	if removed != 1 {
		t.Fatalf("expected 1 stale bucket removed, got %d", removed)
	}
}

func TestPerMinuteSixtyIsOnePerSecond(t *testing.T) {
	r := PerMinute(60)
	if r.Limit != 1 {
		t.Errorf("Limit = %v, want 1 event/sec for 60/min", r.Limit)
	}
}
