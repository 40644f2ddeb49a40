package redislock

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/adgraph/internal/config"
	"github.com/yungbote/adgraph/internal/platform/logger"
)

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), config.RedisConfig{}, logger.Nop()); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestLockExcludesSecondHolder(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	l, err := New(ctx, config.RedisConfig{Addr: addr, LockTTLSec: 5}, logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	key := "test:" + t.Name()
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, key); err == nil {
		t.Fatalf("second Lock should block until timeout")
	}

	unlock()
	again, err := l.Lock(ctx, key)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()
}
