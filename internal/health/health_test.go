package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreakerStartsHealthy(t *testing.T) {
	b := New(nil, 0, nil)
	if !b.Available() {
		t.Fatal("expected a fresh breaker to be available")
	}
	if b.Status().State != Healthy {
		t.Errorf("State = %v, want Healthy", b.Status().State)
	}
}

func TestBreakerDegradesAfterRepeatedFailures(t *testing.T) {
	b := New(nil, 0, nil)
	b.RecordFailure()
	b.RecordFailure()
	if b.Status().State != Degraded {
		t.Errorf("State = %v, want Degraded", b.Status().State)
	}
	if !b.Available() {
		t.Fatal("degraded should still be available")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New(nil, 0, nil)
	for i := 0; i < Threshold; i++ {
		b.RecordFailure()
	}
	if b.Status().State != Unavailable {
		t.Fatalf("State = %v, want Unavailable", b.Status().State)
	}
	if b.Available() {
		t.Fatal("expected breaker to be unavailable immediately after opening")
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := New(nil, 0, nil)
	for i := 0; i < Threshold; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	if b.Status().State != Healthy {
		t.Errorf("State = %v, want Healthy", b.Status().State)
	}
	if b.Status().ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", b.Status().ConsecutiveFailures)
	}
}

type fakePinger struct {
	mu      sync.Mutex
	healthy bool
	calls   int
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.healthy {
		return nil
	}
	return errors.New("unreachable")
}

func (f *fakePinger) setHealthy(h bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = h
}

func TestRunProbesPeriodicallyAndRecordsOutcome(t *testing.T) {
	pinger := &fakePinger{healthy: false}
	b := New(pinger, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	defer b.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.Status().ConsecutiveFailures >= Threshold {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if b.Status().State != Unavailable {
		t.Fatalf("expected repeated probe failures to open the circuit, got %v", b.Status())
	}

	pinger.setHealthy(true)
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.Status().State == Healthy {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected the prober to recover the breaker once pings succeed, got %v", b.Status())
}
