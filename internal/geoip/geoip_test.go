package geoip

import (
	"net/http/httptest"
	"testing"
)

func TestNew_EmptyPath(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatalf("expected no error for empty path, got %v", err)
	}
	if country := r.Country("8.8.8.8"); country != "" {
		t.Errorf("expected empty country for nil resolver, got %q", country)
	}
}

func TestNew_InvalidPath(t *testing.T) {
	r, err := New("/nonexistent/path.mmdb")
	if err != nil {
		t.Fatalf("expected no error for missing file (graceful fallback), got %v", err)
	}
	if country := r.Country("8.8.8.8"); country != "" {
		t.Errorf("expected empty country, got %q", country)
	}
}

func TestAllowed_NoRegionsNeverBlocks(t *testing.T) {
	r, _ := New("")
	req := httptest.NewRequest("GET", "/api/movies/abc/playback", nil)
	if !r.Allowed(req, nil) {
		t.Error("expected unrestricted content to be allowed")
	}
}

func TestAllowed_UnresolvableIPNeverBlocks(t *testing.T) {
	r, _ := New("")
	req := httptest.NewRequest("GET", "/api/movies/abc/playback", nil)
	if !r.Allowed(req, []string{"DE", "FR"}) {
		t.Error("expected playback to be allowed when country is unknown")
	}
}

func TestClientIP_ForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := ClientIP(req); ip != "203.0.113.9" {
		t.Errorf("expected first forwarded IP, got %q", ip)
	}
}

func TestClientIP_RemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.7:9999"
	if ip := ClientIP(req); ip != "192.0.2.7" {
		t.Errorf("expected host part of remote addr, got %q", ip)
	}
}

func TestClose_NilDB(t *testing.T) {
	r, _ := New("")
	if err := r.Close(); err != nil {
		t.Errorf("expected no error closing nil resolver, got %v", err)
	}
}
