package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/redis"
)

type failingLimiter struct{}

func (failingLimiter) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return false, 0, errors.New("redis down")
}

func newLimiter(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
}

func TestRateLimitIPLimitTriggers(t *testing.T) {
	policy := NewRateLimitPolicy("callbacks", time.Minute, 2, 0)
	handler := RateLimit(policy, newLimiter(t), nil)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/square", nil)
		req.RemoteAddr = "1.2.3.4:5678"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i < 2 {
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
			}
			continue
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		var payload struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if payload.Error.Code != string(pkgerrors.CodeRateLimit) {
			t.Fatalf("unexpected code: %s", payload.Error.Code)
		}
	}
}

func TestRateLimitTenantsCountedSeparately(t *testing.T) {
	policy := NewRateLimitPolicy("purchase", time.Minute, 0, 1)
	handler := RateLimit(policy, newLimiter(t), nil)(okHandler())

	send := func(tenant string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases", nil)
		req = req.WithContext(context.WithValue(req.Context(), ctxTenantID, tenant))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("tenant-a"); code != http.StatusOK {
		t.Fatalf("first tenant-a request: got %d", code)
	}
	if code := send("tenant-b"); code != http.StatusOK {
		t.Fatalf("first tenant-b request: got %d", code)
	}
	if code := send("tenant-a"); code != http.StatusTooManyRequests {
		t.Fatalf("second tenant-a request: expected 429, got %d", code)
	}
}

func TestRateLimitForwardedForHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", " 9.9.9.9 , 10.0.0.1")
	if got := clientIP(req); got != "9.9.9.9" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	handler := RateLimit(NewRateLimitPolicy("off", 0, 1, 1), failingLimiter{}, nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}

func TestRateLimitStoreErrorIsDependencyFailure(t *testing.T) {
	handler := RateLimit(NewRateLimitPolicy("purchase", time.Minute, 1, 0), failingLimiter{}, nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code == http.StatusOK {
		t.Fatalf("expected store failure to block the request")
	}
}
