package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadplanner/internal/model"
	"loadplanner/internal/opt"
)

func TestPlanEventsWS(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()
	rec := createPlan(t, srv.Config.Handler, line("SO1", "Acme", "OK", 10000), line("SO2", "Bolt", "OK", 12000))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/plans/" + rec.ID + "/events/ws"
	hdr := http.Header{"X-Tenant-Id": {"t1"}, "X-Role": {"viewer"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connection_ack", msg.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1"}))
	require.Eventually(t, func() bool { return s.Broker.(*Broker).Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	sel := []opt.FragmentRef{refFor(t, rec.Plan, "SO1-1"), refFor(t, rec.Plan, "SO2-1")}
	rr := do(t, srv.Config.Handler, http.MethodPost, "/v1/plans/"+rec.ID+"/combine", model.CombineRequest{Selection: sel}, asRole("t1", "admin")...)
	require.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "next", msg.Type)
	assert.Equal(t, "1", msg.ID)
	var payload struct {
		Data struct {
			PlanEvents struct {
				Type string         `json:"type"`
				Data map[string]any `json:"data"`
			} `json:"planEvents"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "plan.combined", payload.Data.PlanEvents.Type)
	assert.InDelta(t, 2, payload.Data.PlanEvents.Data["version"], 1e-9)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "complete", ID: "1"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)
	assert.Zero(t, s.Broker.(*Broker).Subscribers())
}

func TestPlanEventsWSUnknownPlan(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Routes())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/plans/nope/events/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
