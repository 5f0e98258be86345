package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reelhouse/reelhouse/internal/auth"
)

const testJWTSecret = "test-secret-for-ratelimit-tests"
const testUserID = "550e8400-e29b-41d4-a716-446655440000"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	return req
}

func TestLimiter_AllowsWithinBurst(t *testing.T) {
	limiter := NewLimiter(1, 3)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.1:1234"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected %d, got %d", i, http.StatusOK, rec.Code)
		}
	}
}

func TestLimiter_BlocksBeyondBurst(t *testing.T) {
	limiter := NewLimiter(0.001, 2)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.1:1234"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected %d, got %d", i, http.StatusOK, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1:1234"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
}

func TestLimiter_SeparateBucketsPerIP(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	handler := limiter.Middleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1:1234"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first IP: expected %d, got %d", http.StatusOK, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.2:1234"))
	if rec.Code != http.StatusOK {
		t.Fatalf("second IP: expected %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestLimiter_ForwardedForTakesPrecedence(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	handler := limiter.Middleware(okHandler())

	req := requestFrom("10.0.0.1:1234")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}

	req = requestFrom("10.0.0.99:9999")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected %d for same forwarded IP, got %d", http.StatusTooManyRequests, rec.Code)
	}
}

func TestLimiter_KeyByUserSplitsSharedIP(t *testing.T) {
	limiter := NewLimiter(0.001, 1).KeyByUser(testJWTSecret)
	handler := limiter.Middleware(okHandler())

	token, err := auth.GenerateAccessToken(testJWTSecret, testUserID)
	if err != nil {
		t.Fatalf("failed to generate access token: %v", err)
	}

	// Authenticated request consumes the user's bucket.
	req := requestFrom("10.0.0.1:1234")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}

	// Anonymous request from the same IP has its own bucket.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1:1234"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected anonymous caller on a fresh bucket, got %d", rec.Code)
	}

	// Second authenticated request exhausts the user's bucket.
	req = requestFrom("10.0.0.2:5678")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected %d for the same user, got %d", http.StatusTooManyRequests, rec.Code)
	}
}
