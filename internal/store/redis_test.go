package store

import (
	"context"
	"testing"
	"time"
)

func TestNewRedisAcceptsURL(t *testing.T) {
	r := NewRedis("redis://:secret@cache.internal:6380/2")
	defer r.Close()
	opts := r.Client.Options()
	if opts.Addr != "cache.internal:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("options = %s db=%d", opts.Addr, opts.DB)
	}
	if opts.DialTimeout != 2*time.Second {
		t.Fatalf("dial timeout = %s", opts.DialTimeout)
	}
}

func TestRedisHealthyUnreachable(t *testing.T) {
	r := NewRedis("127.0.0.1:1")
	defer r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if r.Healthy(ctx) {
		t.Fatal("unreachable redis reported healthy")
	}
	var nilRedis *Redis
	if nilRedis.Healthy(ctx) {
		t.Fatal("nil redis reported healthy")
	}
}
