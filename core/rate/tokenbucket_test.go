package rate

import (
	"testing"
	"time"
)

func TestTokenBucketCapacity(t *testing.T) {
	lim := NewTokenBucketLimiter(3, 1)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !lim.AllowN(now, 1) {
			t.Fatalf("request %d should be allowed within capacity", i+1)
		}
	}
	if lim.AllowN(now, 1) {
		t.Fatal("request beyond capacity should be denied")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	lim := NewTokenBucketLimiter(1, 10)
	now := time.Now()

	if !lim.AllowN(now, 1) {
		t.Fatal("first request should be allowed")
	}
	if lim.AllowN(now, 1) {
		t.Fatal("bucket should be empty")
	}
	if !lim.AllowN(now.Add(200*time.Millisecond), 1) {
		t.Fatal("bucket should have refilled after 200ms at 10/s")
	}
}

func TestTokenBucketNeverExceedsCapacity(t *testing.T) {
	lim := NewTokenBucketLimiter(2, 100)
	now := time.Now()

	// A long idle period must not bank more than capacity.
	later := now.Add(time.Hour)
	if !lim.AllowN(later, 2) {
		t.Fatal("full bucket should allow capacity")
	}
	if lim.AllowN(later, 1) {
		t.Fatal("bucket should not hold more than capacity")
	}
}
