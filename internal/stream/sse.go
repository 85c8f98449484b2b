package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const heartbeatInterval = 15 * time.Second

// ServeSSE writes every event of the emitter to w, from the first one, until the emitter closes
// and its log is exhausted, or until the client goes away. A client leaving only ends this
// subscription; the emitter and the turn behind it keep running.
func ServeSSE(w http.ResponseWriter, r *http.Request, e *Emitter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	sub := e.Subscribe()
	for {
		events, changed := sub.Next()
		if err := writeEvents(w, events); err != nil {
			slog.Warn("failed to write sse event", "error", err.Error())
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-e.Done():
			events, _ := sub.Next()
			if err := writeEvents(w, events); err != nil {
				slog.Warn("failed to write sse event", "error", err.Error())
			}
			flusher.Flush()
			return
		case <-changed:
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
	}
}

func writeEvents(w http.ResponseWriter, events []Event) error {
	for _, ev := range events {
		if err := writeEvent(w, ev); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	if ev.Name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
			return err
		}
	}
	var payload []byte
	switch data := ev.Data.(type) {
	case string:
		payload = []byte(data)
	case []byte:
		payload = data
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal sse data: %w", err)
		}
		payload = raw
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
