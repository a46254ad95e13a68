package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/service"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeValidation MessageType = "ticket_validation"
)

// Message is what feed subscribers receive.
type Message struct {
	Type       MessageType              `json:"type"`
	Validation *service.ValidationEvent `json:"validation,omitempty"`
	Timestamp  int64                    `json:"timestamp"`
}

// allTopics is the subscription key of clients watching every ticket type.
const allTopics = ""

// Hub fans validation events out to the staff dashboards connected to the
// live feed.  Clients subscribe to one ticket type or, with an empty topic,
// to all of them.  The clients map is owned by the Run goroutine.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}

	mu    sync.RWMutex
	count map[string]int
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		count:      make(map[string]int),
	}
}

// Run is the hub's main loop.  It returns when ctx is cancelled, closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for topic, clients := range h.clients {
				for c := range clients {
					close(c.send)
				}
				delete(h.clients, topic)
			}
			h.setCount(nil)
			close(h.done)
			return

		case c := <-h.register:
			if h.clients[c.topic] == nil {
				h.clients[c.topic] = make(map[*Client]bool)
			}
			h.clients[c.topic][c] = true
			h.setCount(h.clients)
			log.Debug().Str("topic", c.topic).Int("clients", len(h.clients[c.topic])).Msg("websocket: client registered")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Error().Err(err).Msg("websocket: marshal message")
				continue
			}
			topics := []string{allTopics}
			if msg.Validation != nil && msg.Validation.TicketTypeID != allTopics {
				topics = append(topics, msg.Validation.TicketTypeID)
			}
			for _, topic := range topics {
				for c := range h.clients[topic] {
					select {
					case c.send <- data:
					default:
						// slow consumer; drop it rather than stall the feed
						h.remove(c)
					}
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	clients, ok := h.clients[c.topic]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.clients, c.topic)
	}
	h.setCount(h.clients)
	log.Debug().Str("topic", c.topic).Msg("websocket: client unregistered")
}

func (h *Hub) setCount(clients map[string]map[*Client]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count = make(map[string]int, len(clients))
	for topic, cs := range clients {
		h.count[topic] = len(cs)
	}
}

// PublishValidation implements service.ValidationFeed.  It never blocks:
// when the broadcast buffer is full the event is dropped.
func (h *Hub) PublishValidation(ev service.ValidationEvent) {
	msg := &Message{Type: MessageTypeValidation, Validation: &ev, Timestamp: time.Now().UnixMilli()}
	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Str("code", ev.Code).Msg("websocket: feed backlog full, event dropped")
	}
}

// ClientCount returns the number of clients subscribed to topic.
func (h *Hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count[topic]
}
