package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/core"
)

// SSEKeepAlive is how often an idle event stream sends a comment line.
var SSEKeepAlive = 15 * time.Second

// handleEvents streams engine lifecycle events as Server-Sent Events.
// ?types=workflowProgress,workflowCompleted limits the stream. Slow clients
// lose events rather than blocking publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming not supported", Code: "ERR000"})
		return
	}

	filter := make(map[core.EventType]bool)
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter[core.EventType(t)] = true
			}
		}
	}

	events := make(chan core.Event, 64)
	unsubscribe := s.engine.Events().Subscribe(func(ev core.Event) {
		if len(filter) > 0 && !filter[ev.Type] {
			return
		}
		select {
		case events <- ev:
		default:
			slog.Warn("sse client too slow, dropping event", "event", ev.Type)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(SSEKeepAlive)
	defer keepAlive.Stop()

	var id int
	for {
		select {
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("encode sse event", "event", ev.Type, "error", err)
				continue
			}
			id++
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.Type, data)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-s.done:
			return

		case <-r.Context().Done():
			return
		}
	}
}
