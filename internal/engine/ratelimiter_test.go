package engine

import (
	"context"
	"testing"
	"time"
)

func TestEmailThrottle_AllowsWithinLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	th := NewEmailThrottle(client, 3, time.Hour, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !th.Allow(ctx, "ana@example.com") {
			t.Errorf("email %d should be allowed (limit=3)", i+1)
		}
	}
}

func TestEmailThrottle_BlocksOverLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	th := NewEmailThrottle(client, 2, time.Hour, testLogger())
	ctx := context.Background()

	th.Allow(ctx, "ana@example.com")
	th.Allow(ctx, "ana@example.com")

	if th.Allow(ctx, "ana@example.com") {
		t.Error("third email within the window should be throttled")
	}
}

func TestEmailThrottle_RecipientsAreIndependent(t *testing.T) {
	client, _ := setupTestRedis(t)
	th := NewEmailThrottle(client, 1, time.Hour, testLogger())
	ctx := context.Background()

	if !th.Allow(ctx, "ana@example.com") {
		t.Fatal("first email to ana should be allowed")
	}
	if !th.Allow(ctx, "bruno@example.com") {
		t.Error("bruno has his own window")
	}
	if th.Allow(ctx, "ANA@example.com") {
		t.Error("recipient matching should ignore case")
	}
}

func TestEmailThrottle_WindowSlides(t *testing.T) {
	client, _ := setupTestRedis(t)
	th := NewEmailThrottle(client, 1, time.Minute, testLogger())
	ctx := context.Background()

	base := time.Now()
	th.now = func() time.Time { return base }
	th.Allow(ctx, "ana@example.com")

	th.now = func() time.Time { return base.Add(2 * time.Minute) }
	if !th.Allow(ctx, "ana@example.com") {
		t.Error("email after the window should be allowed")
	}
}

func TestEmailThrottle_ZeroLimitAllowsAll(t *testing.T) {
	th := NewEmailThrottle(nil, 0, time.Hour, testLogger())
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if !th.Allow(ctx, "ana@example.com") {
			t.Fatalf("email %d should be allowed with limit=0", i+1)
		}
	}
}

func TestEmailThrottle_FailsOpenWhenRedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	th := NewEmailThrottle(client, 1, time.Hour, testLogger())
	mr.Close()

	if !th.Allow(context.Background(), "ana@example.com") {
		t.Error("throttle should allow when redis is unreachable")
	}
}
