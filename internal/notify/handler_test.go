package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/reelhouse/reelhouse/internal/auth"
)

const (
	testJWTSecret = "test-jwt-secret-key"
	testUserID    = "550e8400-e29b-41d4-a716-446655440000"
)

func newNotifyRouter(h *Handler) http.Handler {
	authMiddleware := auth.NewHandler(nil, testJWTSecret, false).Middleware
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/api/notifications", h.List)
		r.Delete("/api/notifications/{id}", h.Dismiss)
		r.Get("/api/notifications/stream", h.Stream)
	})
	return r
}

func authenticatedRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	token, err := auth.GenerateAccessToken(testJWTSecret, testUserID)
	if err != nil {
		t.Fatalf("failed to generate access token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within a second")
}

func TestList_ReturnsPendingForCaller(t *testing.T) {
	bus := NewBus()
	bus.expire = false
	bus.Publish(testUserID, Notification{Message: "progress saved"})
	bus.Publish("someone-else", Notification{Message: "not yours"})

	rec := httptest.NewRecorder()
	newNotifyRouter(NewHandler(bus)).ServeHTTP(rec, authenticatedRequest(t, http.MethodGet, "/api/notifications"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "progress saved") {
		t.Errorf("expected pending notification in response, got %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "not yours") {
		t.Error("response leaked another user's notification")
	}
}

func TestHandlerDismiss_RemovesEntry(t *testing.T) {
	bus := NewBus()
	bus.expire = false
	n := bus.Publish(testUserID, Notification{Message: "dismiss me"})

	rec := httptest.NewRecorder()
	newNotifyRouter(NewHandler(bus)).ServeHTTP(rec, authenticatedRequest(t, http.MethodDelete, "/api/notifications/"+n.ID))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if len(bus.Snapshot(testUserID)) != 0 {
		t.Error("expected notification to be removed")
	}
}

func TestDismiss_UnknownID(t *testing.T) {
	rec := httptest.NewRecorder()
	newNotifyRouter(NewHandler(NewBus())).ServeHTTP(rec, authenticatedRequest(t, http.MethodDelete, "/api/notifications/nope"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

// streamRecorder adds the write-deadline hook the stream handler relies on
// and guards the body buffer against concurrent writes from the handler
// goroutine.
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu              sync.Mutex
	deadlineCleared bool
}

func (r *streamRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *streamRecorder) SetWriteDeadline(deadline time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if deadline.IsZero() {
		r.deadlineCleared = true
	}
	return nil
}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Body.String()
}

func TestStream_DeliversEventsAndLiftsWriteDeadline(t *testing.T) {
	bus := NewBus()
	bus.expire = false

	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req := authenticatedRequest(t, http.MethodGet, "/api/notifications/stream").WithContext(ctx)

	done := make(chan struct{})
	go func() {
		newNotifyRouter(NewHandler(bus)).ServeHTTP(rec, req)
		close(done)
	}()

	waitFor(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.subs[testUserID]) > 0
	})

	bus.Success(testUserID, "episode unlocked")

	waitFor(t, func() bool { return strings.Contains(rec.body(), "episode unlocked") })

	cancel()
	<-done

	if !rec.deadlineCleared {
		t.Error("expected the stream to lift the server write deadline")
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", got)
	}
	if !strings.Contains(rec.body(), "data: ") {
		t.Errorf("expected an SSE data frame, got %s", rec.body())
	}
}
