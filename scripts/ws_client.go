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
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Run a small planning problem
	body := []byte(`{
		"tenantId": "t_demo",
		"orders": [
			{"id": "J1", "durationMin": 90, "resources": ["st1"], "attributes": {"color": "white"}},
			{"id": "J2", "durationMin": 60, "resources": ["st1"], "attributes": {"color": "black"}},
			{"id": "J3", "durationMin": 120, "resources": ["st1"], "attributes": {"color": "white"}}
		],
		"resources": [{"id": "st1", "changeoverGroup": "paint"}],
		"changeover": {"defaults": [{"group": "paint", "attribute": "color", "minutes": 30}]}
	}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/plans", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var plan struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		log.Fatal(err)
	}
	log.Printf("Plan %s status=%s", plan.ID, plan.Status)

	// Connect WS and subscribe to events for the plan
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plans/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"planId": plan.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Re-run with hints to trigger progress events on a fresh plan id
	time.Sleep(500 * time.Millisecond)
	rerun, _ := http.NewRequest(http.MethodPost, base+"/v1/plans", bytes.NewReader(body))
	rerun.Header.Set("Content-Type", "application/json")
	rerun.Header.Set("X-Tenant-Id", "t_demo")
	rerun.Header.Set("X-Role", "admin")
	_, _ = http.DefaultClient.Do(rerun)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
