package main

import (
	"log"
)

type mapEvent struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// mapEventRouter fans events out to connected listeners, slow listeners
// lose events instead of stalling the frame loop
type mapEventRouter struct {
	// connects and disconnects share a channel to keep their order
	subs   chan subscription
	events chan mapEvent
	done   chan struct{}
}

type subscription struct {
	c    chan mapEvent
	join bool
}

func newMapEventRouter() *mapEventRouter {
	return &mapEventRouter{
		subs:   make(chan subscription, 16),
		events: make(chan mapEvent, 256),
		done:   make(chan struct{}),
	}
}

// Run delivers events until exitchan is closed, then closes every
// listener channel
func (router *mapEventRouter) Run(exitchan <-chan struct{}) {
	clients := map[chan mapEvent]bool{}
	for {
		select {
		case <-exitchan:
			close(router.done)
			for c := range clients {
				close(c)
			}
			return
		case s := <-router.subs:
			if s.join {
				clients[s.c] = true
			} else if clients[s.c] {
				delete(clients, s.c)
				close(s.c)
			}
		case e := <-router.events:
			for c := range clients {
				select {
				case c <- e:
				default:
					log.Printf("Event %v dropped!", e.Action)
				}
			}
		}
	}
}

func (router *mapEventRouter) Connect() chan mapEvent {
	c := make(chan mapEvent, 64)
	select {
	case <-router.done:
		close(c)
		return c
	default:
	}
	select {
	case router.subs <- subscription{c: c, join: true}:
	case <-router.done:
		close(c)
	}
	return c
}

func (router *mapEventRouter) Disconnect(c chan mapEvent) {
	select {
	case router.subs <- subscription{c: c}:
	case <-router.done:
	}
}

// Broadcast never blocks, events are dropped when the queue is full
func (router *mapEventRouter) Broadcast(action string, data any) {
	select {
	case router.events <- mapEvent{Action: action, Data: data}:
	default:
	}
}
