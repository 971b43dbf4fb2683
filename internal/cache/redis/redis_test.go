package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/gflexbot/internal/domain"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{SessionLockKey("test.glocalflexmarket.com", "alice", domain.SideBuy), "session:test.glocalflexmarket.com:alice:buy"},
		{lockKey(SessionLockKey("h", "bob", domain.SideSell)), "lock:session:h:bob:sell"},
		{SubmissionLimitKey("alice", domain.SideSell), "submit:alice:sell"},
		{rateLimitKey(SubmissionLimitKey("alice", domain.SideSell)), "ratelimit:submit:alice:sell"},
		{OrdersChannel(domain.SideBuy), "gflex:orders:buy"},
		{WSChannel("/api/v1/ws/trade/"), "gflex:ws:trade"},
		{WSChannel("/api/v1/ws/orderbook/"), "gflex:ws:orderbook"},
		{WSChannel("/custom/feed/"), "gflex:ws:custom.feed"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestClampPoll(t *testing.T) {
	if got := clampPoll(0); got != minWaitPoll {
		t.Errorf("clampPoll(0) = %v", got)
	}
	if got := clampPoll(time.Hour); got != maxWaitPoll {
		t.Errorf("clampPoll(1h) = %v", got)
	}
	if got := clampPoll(200 * time.Millisecond); got != 200*time.Millisecond {
		t.Errorf("clampPoll(200ms) = %v", got)
	}
}

type fakeLimiter struct {
	mu    sync.Mutex
	calls []string
	limit int
	win   time.Duration
	err   error
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeLimiter) Wait(_ context.Context, key string, limit int, window time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	f.limit, f.win = limit, window
	return f.err
}

func TestPerMinuteThrottle(t *testing.T) {
	fl := &fakeLimiter{}
	th := PerMinute(fl, "submit:alice:buy", 30)
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(fl.calls) != 1 || fl.calls[0] != "submit:alice:buy" {
		t.Errorf("calls = %v", fl.calls)
	}
	if fl.limit != 30 || fl.win != time.Minute {
		t.Errorf("limit/window = %d/%v", fl.limit, fl.win)
	}

	fl.err = errors.New("boom")
	if err := th.Wait(context.Background()); err == nil {
		t.Error("expected limiter error to propagate")
	}
}

type fakeLocks struct {
	mu      sync.Mutex
	extends int
	failAt  int
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

func (f *fakeLocks) Extend(context.Context, string, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends++
	if f.failAt > 0 && f.extends >= f.failAt {
		return domain.ErrLockHeld
	}
	return nil
}

func TestKeepAliveReturnsOnLostLock(t *testing.T) {
	fl := &fakeLocks{failAt: 2}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan error, 1)
	go func() { done <- KeepAlive(context.Background(), fl, "k", 30*time.Millisecond, logger) }()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrLockHeld) {
			t.Fatalf("err = %v, want ErrLockHeld", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("KeepAlive did not return")
	}
}

func TestKeepAliveStopsOnCancel(t *testing.T) {
	fl := &fakeLocks{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- KeepAlive(ctx, fl, "k", 30*time.Millisecond, logger) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("KeepAlive did not stop")
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.extends == 0 {
		t.Error("lock was never extended")
	}
}

func TestExtendUnknownLock(t *testing.T) {
	c := NewFromRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	defer c.Close()
	lm := NewLockManager(c)
	err := lm.Extend(context.Background(), "never-acquired", time.Second)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
