package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterBurst(t *testing.T) {
	t.Parallel()
	l := NewLimiter(10, time.Minute, 3)
	defer l.Close()

	for i := range 3 {
		if res := l.Allow("client"); !res.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	res := l.Allow("client")
	if res.Allowed {
		t.Fatal("fourth request must be denied")
	}
	if res.RetryAfter < time.Second {
		t.Fatalf("RetryAfter = %v", res.RetryAfter)
	}
	if res.Limit != 10 {
		t.Fatalf("Limit = %d", res.Limit)
	}
}

func TestLimiterKeysIsolated(t *testing.T) {
	t.Parallel()
	l := NewLimiter(1, time.Minute, 1)
	defer l.Close()

	if !l.Allow("a").Allowed {
		t.Fatal("first request for a denied")
	}
	if l.Allow("a").Allowed {
		t.Fatal("second request for a allowed")
	}
	if !l.Allow("b").Allowed {
		t.Fatal("b must have its own bucket")
	}
}

func TestLimiterRefill(t *testing.T) {
	t.Parallel()
	// 100 requests per second refills within a few milliseconds.
	l := NewLimiter(100, time.Second, 1)
	defer l.Close()

	if !l.Allow("c").Allowed {
		t.Fatal("first request denied")
	}
	if l.Allow("c").Allowed {
		t.Fatal("bucket must be empty")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("c").Allowed {
		t.Fatal("bucket must have refilled")
	}
}

func TestLimiterCleanup(t *testing.T) {
	t.Parallel()
	// Refills within milliseconds, so the stale bucket is full again by
	// the time cleanup runs.
	l := NewLimiter(100, time.Second, 1)
	defer l.Close()

	l.Allow("old")
	time.Sleep(50 * time.Millisecond)
	l.mu.Lock()
	l.buckets["old"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.cleanup()
	l.mu.Lock()
	_, exists := l.buckets["old"]
	l.mu.Unlock()
	if exists {
		t.Fatal("stale refilled bucket must be removed")
	}

	// A stale bucket that has not refilled is kept: it still encodes a
	// client's spent budget.
	slow := NewLimiter(10, time.Minute, 10)
	defer slow.Close()
	slow.Allow("busy")
	slow.mu.Lock()
	slow.buckets["busy"].lastSeen = time.Now().Add(-time.Hour)
	slow.mu.Unlock()

	slow.cleanup()
	slow.mu.Lock()
	_, exists = slow.buckets["busy"]
	slow.mu.Unlock()
	if !exists {
		t.Fatal("non-refilled bucket must be retained")
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:1234"
	if got := ClientIP(r); got != "192.0.2.7" {
		t.Fatalf("ClientIP = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Fatalf("ClientIP with XFF = %q", got)
	}
}
