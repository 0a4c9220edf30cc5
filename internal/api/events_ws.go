package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Plan events over WebSocket, framed like graphql-transport-ws: the client
// sends connection_init, then one subscribe per stream; events arrive as next.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlanEventsWSHandler handles /v1/plans/{id}/events/ws
func (s *Server) PlanEventsWSHandler(w http.ResponseWriter, r *http.Request, p Principal, id string) {
	if _, err := s.Store.GetPlan(r.Context(), p.Tenant, id); err != nil {
		s.storeProblem(w, r, "Get plan failed", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var writeMu sync.Mutex
	write := func(v wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	subs := map[string]func(){} // subscription id -> cancel
	defer func() {
		close(done)
		for _, cancel := range subs {
			cancel()
		}
		_ = conn.Close()
		wg.Wait()
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	acked := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "connection_init":
			if acked {
				continue
			}
			acked = true
			_ = write(wsMessage{Type: "connection_ack"})
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticker := time.NewTicker(wsPingInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if !acked || msg.ID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`[{"message":"connection_init and an id are required"}]`)})
				continue
			}
			if _, dup := subs[msg.ID]; dup {
				continue
			}
			ch, cancel := s.Broker.Subscribe(id)
			subs[msg.ID] = cancel
			wg.Add(1)
			go func(subID string) {
				defer wg.Done()
				for evt := range ch {
					payload, err := json.Marshal(map[string]any{"data": map[string]any{"planEvents": map[string]any{"type": evt.Type, "data": evt.Data}}})
					if err != nil {
						continue
					}
					if err := write(wsMessage{Type: "next", ID: subID, Payload: payload}); err != nil {
						s.Log.Debug("ws write failed", zap.String("plan_id", id), zap.Error(err))
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: subID})
			}(msg.ID)
		case "complete":
			if cancel, ok := subs[msg.ID]; ok {
				cancel()
				delete(subs, msg.ID)
			}
		}
	}
}
