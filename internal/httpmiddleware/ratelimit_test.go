package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucketRefill(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("request %d rejected", i)
		}
	}
	if l.allow("1.2.3.4") {
		t.Fatal("third request allowed")
	}
	if !l.allow("5.6.7.8") {
		t.Fatal("keys should not share a bucket")
	}

	now = now.Add(2 * time.Second)
	if !l.allow("1.2.3.4") {
		t.Fatal("no refill after two seconds at 60/min")
	}
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(), RateLimit(NewSimpleTokenBucket(1, 1), nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first: %d", first.Code)
	}
	if first.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", second.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(errLimiter{}, nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("got %d", w.Code)
	}
}

func TestRedisWindow(t *testing.T) {
	addr := os.Getenv("HOSTELHUB_TEST_REDIS")
	if addr == "" {
		t.Skip("HOSTELHUB_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	l := NewRedisWindow(client, 2)
	l.prefix = "ratelimit-test:" + t.Name() + ":"
	fixed := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	ctx := context.Background()
	t.Cleanup(func() { client.Del(ctx, l.prefix+"k:202503100800") })

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if ok != want {
			t.Fatalf("request %d: got %v want %v", i, ok, want)
		}
	}
}
