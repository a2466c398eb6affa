package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	applog "expenses/internal/log"
)

// handleEvents streams every published snapshot as a server-sent event.
// The current snapshot is sent first; a comment line keeps idle
// connections open.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snapshots, cancel := s.tracker.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(newSnapshotResponse(snap))
			if err != nil {
				s.logger.LogError(ctx, "Failed to encode snapshot", err, applog.ComponentHTTP, applog.OpList, nil)
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Generation, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
