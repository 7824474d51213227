// Package main runs a demo WebSocket client for order events.
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

type orderEvent struct {
	Type    string         `json:"type"`
	OrderID string         `json:"orderId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first so we catch the pipeline events
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev orderEvent
			if err := c.ReadJSON(&ev); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s order=%s data=%v", ev.Type, ev.OrderID, ev.Data)
		}
	}()

	// Run the full pipeline: fetch, post, push
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/orchestrator/run", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var runResp map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&runResp); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("run: %v", runResp)

	// Trigger a poller cycle to generate tracking events
	time.Sleep(500 * time.Millisecond)
	pollReq, _ := http.NewRequest(http.MethodPost, base+"/v1/poller/run", bytes.NewReader([]byte("{}")))
	pollReq.Header.Set("Content-Type", "application/json")
	_, _ = http.DefaultClient.Do(pollReq)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
