package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const heartbeatInterval = 15 * time.Second

// publish fans an event out to live subscribers and, when configured, the webhook.
func (s *Server) publish(tenant, planID, typ string, data map[string]any) {
	data["ts"] = s.now().UTC().Format(time.RFC3339)
	s.Broker.Publish(planID, SSEEvent{Type: typ, Data: data})
	s.Hooks.Emit(tenant, planID, typ, data)
}

func writeSSE(w http.ResponseWriter, typ string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, b)
	return err
}

// planEventsSSE streams plan.created / plan.combined events for one plan.
func (s *Server) planEventsSSE(w http.ResponseWriter, r *http.Request, p Principal, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.Store.GetPlan(r.Context(), p.Tenant, id); err != nil {
		s.storeProblem(w, r, "Get plan failed", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Broker.Subscribe(id)
	defer cancel()

	heartbeat := func() {
		_ = writeSSE(w, "heartbeat", map[string]string{"planId": id, "ts": s.now().UTC().Format(time.RFC3339)})
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, evt.Type, evt.Data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
