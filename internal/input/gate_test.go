package input

import (
	"sync"
	"testing"
	"time"

	"flappysync/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGateAllowsBurstThenLimits(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := NewGate(Config{Rate: 20, Burst: 3}, logging.NewTestLogger(), WithClock(clock))
	payload := []byte(`{"y":1}`)

	//1.- The burst passes back to back.
	for i := 0; i < 3; i++ {
		if d := gate.Evaluate("conn-1", payload); !d.Accepted {
			t.Fatalf("burst payload %d rejected: %+v", i, d)
		}
	}
	if d := gate.Evaluate("conn-1", payload); d.Accepted || d.Reason != DropReasonRateLimited {
		t.Fatalf("expected rate limit, got %+v", d)
	}

	//2.- One 50ms interval refills one token at 20 per second.
	clock.Advance(50 * time.Millisecond)
	if d := gate.Evaluate("conn-1", payload); !d.Accepted {
		t.Fatalf("expected refill to admit one payload, got %+v", d)
	}
	if d := gate.Evaluate("conn-1", payload); d.Accepted {
		t.Fatalf("expected bucket to be empty again, got %+v", d)
	}

	if got := gate.Metrics()["conn-1"].RateLimited; got != 2 {
		t.Fatalf("rate limited drops = %d, want 2", got)
	}
}

func TestGateKeepsClientsIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := NewGate(Config{Rate: 1, Burst: 1}, logging.NewTestLogger(), WithClock(clock))
	if !gate.Evaluate("a", []byte("x")).Accepted || gate.Evaluate("a", []byte("x")).Accepted {
		t.Fatal("expected client a to exhaust its single token")
	}
	if !gate.Evaluate("b", []byte("x")).Accepted {
		t.Fatal("client b must not share client a's bucket")
	}
}

func TestGateRejectsEmptyPayloads(t *testing.T) {
	gate := NewGate(Config{}, logging.NewTestLogger())
	if d := gate.Evaluate("conn-1", nil); d.Accepted || d.Reason != DropReasonEmpty {
		t.Fatalf("expected empty drop, got %+v", d)
	}
	if d := gate.Evaluate("conn-1", []byte("x")); !d.Accepted {
		t.Fatalf("disabled rate must accept, got %+v", d)
	}
}

func TestGateForgetClearsClientState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := NewGate(Config{Rate: 1, Burst: 1}, logging.NewTestLogger(), WithClock(clock))
	gate.Evaluate("conn-1", []byte("x"))
	gate.Evaluate("conn-1", []byte("x"))
	if gate.Metrics() == nil {
		t.Fatal("expected drop counters before forget")
	}
	gate.Forget("conn-1")
	if gate.Metrics() != nil {
		t.Fatalf("expected metrics cleared, got %+v", gate.Metrics())
	}
	if !gate.Evaluate("conn-1", []byte("x")).Accepted {
		t.Fatal("expected a fresh bucket after forget")
	}
}
