package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/httputil"
)

// Handler exposes the in-process notification bus over HTTP.
type Handler struct {
	bus *Bus
}

func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	httputil.WriteJSON(w, http.StatusOK, h.bus.Snapshot(userID))
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if !h.bus.Dismiss(userID, id) {
		httputil.WriteError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream pushes new notifications to the client as server-sent events until
// the client disconnects.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	ch, cancel := h.bus.Subscribe(userID)
	defer cancel()

	// The server write timeout would sever long-lived streams; lift it for
	// this response. Writers that cannot set deadlines just keep theirs.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case n := <-ch:
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
