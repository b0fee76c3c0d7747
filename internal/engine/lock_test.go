package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisLock_MutualExclusion(t *testing.T) {
	client, _ := setupTestRedis(t)
	lock := NewRedisLock(client, testLogger())
	ctx := context.Background()

	release, err := lock.TryLock(ctx, "dispatch", time.Minute)
	if err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}

	if _, err := lock.TryLock(ctx, "dispatch", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	release()

	release2, err := lock.TryLock(ctx, "dispatch", time.Minute)
	if err != nil {
		t.Fatalf("TryLock after release failed: %v", err)
	}
	release2()
}

func TestRedisLock_ReleaseKeepsForeignOwner(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewRedisLock(client, testLogger())
	ctx := context.Background()

	release, err := lock.TryLock(ctx, "dispatch", time.Second)
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	// The lease expires and another process takes the lock.
	mr.FastForward(2 * time.Second)
	other, err := lock.TryLock(ctx, "dispatch", time.Minute)
	if err != nil {
		t.Fatalf("TryLock after expiry failed: %v", err)
	}
	defer other()

	release()

	if !mr.Exists(lockKey("dispatch")) {
		t.Error("stale release must not delete the new owner's lock")
	}
}

func TestRedisLock_RenewedWhileHeld(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewRedisLock(client, testLogger())
	lock.renewEvery = 10 * time.Millisecond
	ctx := context.Background()

	release, err := lock.TryLock(ctx, "dispatch", time.Minute)
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	// Several TTLs pass while the holder is still running.
	for i := 0; i < 3; i++ {
		mr.FastForward(45 * time.Second)
		waitForTTL(t, mr, lockKey("dispatch"), 50*time.Second)
	}

	if _, err := lock.TryLock(ctx, "dispatch", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second holder acquired the lock while the first still runs: %v", err)
	}

	release()
	if mr.Exists(lockKey("dispatch")) {
		t.Error("release should delete the lock")
	}

	release2, err := lock.TryLock(ctx, "dispatch", time.Minute)
	if err != nil {
		t.Fatalf("TryLock after release failed: %v", err)
	}
	release2()
}

// waitForTTL waits until key's remaining TTL is at least atLeast.
func waitForTTL(t *testing.T, mr *miniredis.Miniredis, key string, atLeast time.Duration) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mr.TTL(key) >= atLeast {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("TTL of %s stayed at %v, want at least %v", key, mr.TTL(key), atLeast)
}

func TestLocalLock(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()

	release, err := lock.TryLock(ctx, "dispatch", 0)
	if err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}
	if _, err := lock.TryLock(ctx, "dispatch", 0); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if r, err := lock.TryLock(ctx, "contracts", 0); err != nil {
		t.Fatalf("other keys should be free: %v", err)
	} else {
		r()
	}

	release()
	release()

	if r, err := lock.TryLock(ctx, "dispatch", 0); err != nil {
		t.Fatalf("TryLock after release failed: %v", err)
	} else {
		r()
	}
}
