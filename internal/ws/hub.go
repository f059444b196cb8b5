package ws

import (
	"encoding/json"
	"sync"
	"time"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Event is one pipeline progress update pushed to subscribers of a project.
type Event struct {
	Kind         string    `json:"kind"`
	ProjectID    string    `json:"project_id"`
	DeploymentID string    `json:"deployment_id"`
	Stage        string    `json:"stage,omitempty"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const replayDepth = 32

// Hub fans pipeline events out to the subscribers of each project. A small
// ring of recent events per project is replayed to late subscribers so a
// dashboard opened mid-deployment still sees how the run got here.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	recent    map[string][][]byte
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type message struct {
	projectID string
	payload   []byte
}

type subscription struct {
	projectID string
	client    Subscriber
	replay    [][]byte
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		recent:    make(map[string][][]byte),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.projectID][sub.client] = struct{}{}
			for _, payload := range sub.replay {
				if err := sub.client.Send(payload); err != nil {
					sub.client.Close()
					delete(h.clients[sub.projectID], sub.client)
					break
				}
			}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.projectID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.projectID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.projectID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.projectID)
				}
			}
		}
	}
}

// Register subscribes a client to a project stream and replays the recent
// event ring to it.
func (h *Hub) Register(projectID string, client Subscriber) {
	h.mu.RLock()
	replay := make([][]byte, len(h.recent[projectID]))
	copy(replay, h.recent[projectID])
	h.mu.RUnlock()
	h.register <- subscription{projectID: projectID, client: client, replay: replay}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	h.unreg <- subscription{projectID: projectID, client: client}
}

// Publish serializes an event, records it in the replay ring, and broadcasts
// it to the project's subscribers.
func (h *Hub) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.Lock()
	ring := append(h.recent[event.ProjectID], payload)
	if len(ring) > replayDepth {
		ring = ring[len(ring)-replayDepth:]
	}
	h.recent[event.ProjectID] = ring
	h.mu.Unlock()
	h.broadcast <- message{projectID: event.ProjectID, payload: payload}
}
