package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maxsupermanhd/livemap/metrics"
)

const wsWriteTimeout = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	HandshakeTimeout: 2 * time.Second,
	Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		log.Printf("Websocket error: %v %v", status, reason.Error())
	},
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	EnableCompression: true,
}

// wsEventsHandler streams map events as json text messages until either
// side goes away
func (a *app) wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	c, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Print("Websocket upgrade error:", err)
		return
	}
	defer c.Close()
	errChan := make(chan error, 1)
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				errChan <- err
				return
			}
		}
	}()
	events := a.events.Connect()
	defer a.events.Disconnect(events)
	metrics.EventClients.Inc()
	defer metrics.EventClients.Dec()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteTimeout))
				return
			}
			c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.WriteJSON(e); err != nil {
				return
			}
		case <-errChan:
			return
		}
	}
}
