package live

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"tripsync/apperr"
	"tripsync/db"
	"tripsync/models"
	"tripsync/syncer"
	"tripsync/utils"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 1 << 20
)

// inboundPayload represents what collaborators send us.
type inboundPayload struct {
	Action    string            `json:"action"` // "update", "save"
	Itinerary *models.Itinerary `json:"itinerary,omitempty"`
}

// Server opens one sync session per websocket connection.
type Server struct {
	Repo      db.Repository
	Channel   syncer.Channel
	Debounce  time.Duration
	ShareBase string
}

type socket struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func (s *socket) write(out outboundPayload) {
	data, err := json.Marshal(out)
	if err != nil {
		log.Printf("[WS] marshal %s: %v", out.Action, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		log.Printf("[WS] send buffer full, dropping %s", out.Action)
	}
}

func (s *socket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// ServeItinerary handles GET /ws/itineraries/:id.
func (srv *Server) ServeItinerary(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	caller := utils.CallerFromRequest(r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := srv.Repo.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Itinerary not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Error loading itinerary", http.StatusInternalServerError)
		return
	}
	collaborators, err := srv.Repo.ListCollaborators(ctx, id)
	if err != nil {
		http.Error(w, "Error loading collaborators", http.StatusInternalServerError)
		return
	}
	perm := models.ResolvePermission(rec, caller, collaborators)
	if !perm.CanRead() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade:", err)
		return
	}
	sock := &socket{conn: conn, send: make(chan []byte, 32)}

	var baseMu sync.Mutex
	base := rec
	setBase := func(row models.ItineraryRecord) {
		baseMu.Lock()
		base = row
		baseMu.Unlock()
	}

	debounce := srv.Debounce
	if debounce <= 0 {
		debounce = syncer.CollabDebounce
	}
	sess, err := syncer.NewSession(srv.Repo, srv.Channel, syncer.Options{
		ItineraryID: id,
		Permission:  perm,
		Debounce:    debounce,
		ShareBase:   srv.ShareBase,
		OnRemote: func(doc models.Itinerary) {
			setBase(models.ToRecord(doc))
			sock.write(outboundPayload{Action: "remote", Itinerary: &doc})
		},
		OnPushed: func(row models.ItineraryRecord) {
			setBase(row)
			sock.write(outboundPayload{Action: "saved"})
		},
		OnError: func(e *apperr.Error) {
			sock.write(outboundPayload{Action: "error", Error: e})
		},
	})
	if err != nil {
		log.Printf("[WS] session for %s: %v", id, err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "live updates unavailable"))
		conn.Close()
		return
	}

	snapshot := models.FromRecord(rec, srv.ShareBase)
	sock.write(outboundPayload{Action: "snapshot", Itinerary: &snapshot, Permission: perm})

	go writePump(sock)
	go readPump(sock, sess, id, func() models.ItineraryRecord {
		baseMu.Lock()
		defer baseMu.Unlock()
		return base
	})
}

func writePump(s *socket) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(s *socket, sess *syncer.Session, id string, base func() models.ItineraryRecord) {
	defer func() {
		sess.Close()
		s.close()
	}()

	s.conn.SetReadLimit(maxFrame)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var last *models.Itinerary
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			break
		}

		var in inboundPayload
		if err := json.Unmarshal(raw, &in); err != nil {
			log.Println("invalid payload:", err)
			continue
		}

		switch in.Action {
		case "update":
			if in.Itinerary == nil {
				continue
			}
			doc := *in.Itinerary
			// identity, ownership and share state are not the socket's to change
			b := base()
			doc.ID = id
			doc.UserID = b.UserID
			doc.ShareToken = b.ShareToken
			doc.IsPublic = b.IsPublic
			doc.ShareURL = ""
			last = &doc
			sess.Schedule(doc)

		case "save":
			if last == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := sess.PushNow(ctx, *last)
			cancel()
			if err != nil && !apperr.Is(err, apperr.KindPermission) {
				s.write(outboundPayload{Action: "error", Error: apperr.Classify(err)})
			}

		default:
			log.Println("unknown action:", in.Action)
		}
	}
}
