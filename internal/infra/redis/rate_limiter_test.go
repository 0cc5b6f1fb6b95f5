package redis

import (
	"context"
	"testing"
	"time"
)

type fakeRedis struct {
	counts  map[string]int64
	expires map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: make(map[string]int64), expires: make(map[string]time.Duration)}
}

func (f *fakeRedis) Ping(context.Context) error { return nil }
func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	return "", nil
}
func (f *fakeRedis) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (f *fakeRedis) Incr(_ context.Context, key string) (int64, error) {
	f.counts[key]++
	return f.counts[key], nil
}
func (f *fakeRedis) Expire(_ context.Context, key string, d time.Duration) error {
	f.expires[key] = d
	return nil
}
func (f *fakeRedis) Del(_ context.Context, keys ...string) error { return nil }
func (f *fakeRedis) Close() error                                { return nil }

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rl := NewRateLimiter(newFakeRedis())
	key := EnqueueKey("u1")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("call %d should be allowed: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatalf("fourth call in the window must be rejected")
	}

	// Separate key, separate budget.
	ok, _ = rl.Allow(ctx, EnqueueKey("u2"), 3, time.Minute)
	if !ok {
		t.Fatalf("another user must have its own window")
	}
}

func TestRateLimiterNilAllowsAll(t *testing.T) {
	t.Parallel()

	var rl *RateLimiter
	ok, err := rl.Allow(context.Background(), "k", 1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("nil limiter must allow: ok=%v err=%v", ok, err)
	}
}
