//go:build ignore

// Package main runs a demo WebSocket client for an order's live location.
//
//	go run scripts/ws_client.go -order <orderId> [-partner <partnerId>]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
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
	OrderID string          `json:"orderId,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

func main() {
	orderID := flag.String("order", "", "order id to follow")
	partnerID := flag.String("partner", "", "if set, post a few fake locations for this partner")
	flag.Parse()
	if *orderID == "" {
		log.Fatal("-order is required")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/orders/" + *orderID + "/location/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Event))
		}
	}()

	if *partnerID != "" {
		for i := 0; i < 3; i++ {
			time.Sleep(500 * time.Millisecond)
			body, _ := json.Marshal(map[string]float64{"lat": 12.97 + float64(i)*0.001, "lng": 77.59})
			resp, err := http.Post(base+"/v1/partners/"+*partnerID+"/location", "application/json", bytes.NewReader(body))
			if err != nil {
				log.Fatal(err)
			}
			_ = resp.Body.Close()
			log.Printf("POST location -> %s", resp.Status)
		}
	}

	select {
	case <-time.After(5 * time.Second):
	case <-done:
	}
}
