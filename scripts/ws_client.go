// Package main runs a demo WebSocket client for plan events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"loadplanner/internal/model"
	"loadplanner/internal/opt"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demoTenant = "t_demo"

// demoHeaders authenticates through the dev-mode header fallback.
func demoHeaders(role string) http.Header {
	return http.Header{"X-Tenant-Id": {demoTenant}, "X-Role": {role}, "Content-Type": {"application/json"}}
}

func post(base, path string, body any, out any) {
	b, err := json.Marshal(body)
	if err != nil {
		log.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(b))
	if err != nil {
		log.Fatal(err)
	}
	req.Header = demoHeaders("dispatcher")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: %s", path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatal(err)
		}
	}
}

func demoLine(so, customer string, lbs float64) opt.OrderLine {
	return opt.OrderLine{SalesOrder: so, Line: "1", Customer: customer, City: "Tulsa", State: "OK", ReadyWeight: &lbs, ReadyPieces: 2}
}

func main() {
	host := "localhost:8080"
	if p := os.Getenv("PORT"); p != "" {
		host = "localhost:" + p
	}
	base := "http://" + host

	// Two small customers headed to the same state end up on separate trucks.
	var rec model.PlanRecord
	post(base, "/v1/plans", model.CreatePlanRequest{
		Name:  "ws demo",
		Lines: []opt.OrderLine{demoLine("SO1", "Acme", 12000), demoLine("SO2", "Bolt", 15000)},
	}, &rec)
	log.Printf("Plan ID: %s (%d trucks)", rec.ID, len(rec.Plan.Trucks))

	u := url.URL{Scheme: "ws", Host: host, Path: "/v1/plans/" + rec.ID + "/events/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), demoHeaders("viewer"))
	if err != nil {
		log.Fatalf("dial %s: %v", u.String(), err)
	}
	defer conn.Close()

	for _, m := range []wsMessage{{Type: "connection_init"}, {Type: "subscribe", ID: "plan"}} {
		if err := conn.WriteJSON(m); err != nil {
			log.Fatalf("send %s: %v", m.Type, err)
		}
	}

	events := make(chan wsMessage)
	go func() {
		defer close(events)
		for {
			var m wsMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			events <- m
		}
	}()

	// Combining every fragment onto one truck emits plan.combined.
	time.Sleep(300 * time.Millisecond)
	var sel []opt.FragmentRef
	for _, f := range rec.Plan.Fragments() {
		sel = append(sel, opt.FragmentRef{TruckNumber: f.TruckNumber, FragmentID: f.ID})
	}
	var res model.CombineResponse
	post(base, "/v1/plans/"+rec.ID+"/combine", model.CombineRequest{Selection: sel, Version: rec.Version}, &res)
	log.Printf("combine: success=%v version=%d warnings=%v", res.Success, res.Version, res.Warnings)

	timeout := time.After(3 * time.Second)
	for {
		select {
		case m, ok := <-events:
			if !ok {
				return
			}
			fmt.Printf("%-15s %s\n", m.Type, m.Payload)
		case <-timeout:
			return
		}
	}
}
