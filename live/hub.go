// Package live fans itinerary row changes out to in-process subscribers and
// bridges websocket clients into sync sessions.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"tripsync/models"
)

var ErrStopped = errors.New("live: hub stopped")

type Client struct {
	Conn   *websocket.Conn
	Send   chan []byte
	Room   string
	UserID string
}

type broadcastMsg struct {
	Room string
	Data []byte
}

// outboundPayload is what a room receives.
type outboundPayload struct {
	Action     string                  `json:"action"`
	Itinerary  *models.Itinerary       `json:"itinerary,omitempty"`
	Row        *models.ItineraryRecord `json:"row,omitempty"`
	Permission models.Permission       `json:"permission,omitempty"`
	Error      any                     `json:"error,omitempty"`
}

// Hub keeps one room per itinerary id.
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.Room] == nil {
				h.rooms[c.Room] = make(map[*Client]bool)
			}
			h.rooms[c.Room][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[m.Room] {
				select {
				case c.Send <- m.Data:
				default:
					log.Printf("[Hub] dropping slow subscriber in room %s", m.Room)
					h.drop(c)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for _, conns := range h.rooms {
				for c := range conns {
					h.drop(c)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop removes c and closes its Send channel once. Callers hold mu.
func (h *Hub) drop(c *Client) {
	conns := h.rooms[c.Room]
	if !conns[c] {
		return
	}
	delete(conns, c)
	close(c.Send)
	if len(conns) == 0 {
		delete(h.rooms, c.Room)
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) stopped() bool {
	select {
	case <-h.quit:
		return true
	default:
		return false
	}
}

// Subscribers reports the number of clients in a room.
func (h *Hub) Subscribers(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Publish broadcasts a stored row to its itinerary's room.
func (h *Hub) Publish(ctx context.Context, rec models.ItineraryRecord) error {
	if h.stopped() {
		return ErrStopped
	}
	data, err := json.Marshal(outboundPayload{Action: "row", Row: &rec})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcastMsg{Room: rec.ItineraryID, Data: data}:
		return nil
	case <-h.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe joins the room for itineraryID as an in-process client. fn runs on
// the client's own goroutine, in publish order. A subscriber that falls behind
// is dropped by Run and joins the room again once it has drained; rows
// broadcast in between are not replayed.
func (h *Hub) Subscribe(itineraryID string, fn func(models.ItineraryRecord)) (func(), error) {
	if h.stopped() {
		return nil, ErrStopped
	}
	sub := &subscription{hub: h, room: itineraryID, fn: fn}
	if err := sub.join(); err != nil {
		return nil, err
	}
	return sub.cancel, nil
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

const subscriberBuffer = 64

type subscription struct {
	hub  *Hub
	room string
	fn   func(models.ItineraryRecord)

	mu     sync.Mutex
	client *Client
	done   bool
}

func (s *subscription) join() error {
	c := &Client{Send: make(chan []byte, subscriberBuffer), Room: s.room}
	select {
	case s.hub.register <- c:
	case <-s.hub.quit:
		return ErrStopped
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		s.hub.leave(c)
		return nil
	}
	s.client = c
	s.mu.Unlock()

	go s.pump(c)
	return nil
}

func (s *subscription) pump(c *Client) {
	for data := range c.Send {
		var out outboundPayload
		if err := json.Unmarshal(data, &out); err != nil || out.Row == nil {
			continue
		}
		s.fn(*out.Row)
	}

	s.mu.Lock()
	rejoin := !s.done && s.client == c
	if rejoin {
		s.client = nil
	}
	s.mu.Unlock()
	if !rejoin || s.hub.stopped() {
		return
	}
	log.Printf("[Hub] subscriber to %s fell behind and was dropped; resubscribing", s.room)
	if err := s.join(); err != nil {
		log.Printf("[Hub] resubscribe to %s: %v", s.room, err)
	}
}

func (s *subscription) cancel() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c != nil {
		s.hub.leave(c)
	}
}
