package collab

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/scribe/backend/internal/document"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// EventPresenceUpdate announces the active-user set of a room.
	EventPresenceUpdate = "presence-update"
	// EventDocumentSaved announces a confirmed persist for a document.
	EventDocumentSaved = "document-saved"

	sendBufferSize = 16
	writeDeadline  = 10 * time.Second
)

// Message is the envelope fanned out to every subscriber of a room.
type Message struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"document_id"`
	UserID     string          `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan Message
}

// Hub tracks per-document presence rooms and fans messages out to their
// subscribers. Presence is best effort: slow subscribers drop messages rather
// than block the room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*client]bool
	clock  func() time.Time
	logger *zap.Logger
}

// HubConfig describes the dependencies for a presence hub.
type HubConfig struct {
	Clock  func() time.Time
	Logger *zap.Logger
}

// NewHub constructs an empty presence hub.
func NewHub(cfg HubConfig) *Hub {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[*client]bool),
		clock:  clock,
		logger: logger,
	}
}

// HandleConnection registers the websocket connection in the document's room
// and pumps messages until the peer disconnects. It blocks for the lifetime
// of the connection.
func (h *Hub) HandleConnection(conn *websocket.Conn, documentID document.DocumentID, userID document.UserID) {
	subscriber := &client{
		userID: userID.String(),
		conn:   conn,
		send:   make(chan Message, sendBufferSize),
	}

	h.register(documentID.String(), subscriber)
	h.broadcastPresence(documentID.String())

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case message := <-subscriber.send:
				conn.SetWriteDeadline(h.clock().Add(writeDeadline)) //nolint:errcheck
				if err := conn.WriteJSON(message); err != nil {
					return
				}
			case <-quit:
				return
			}
		}
	}()

	// Reader loop: presence connections are listen-mostly, but draining reads
	// is what detects the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(documentID.String(), subscriber)
	close(quit)
	<-done
	conn.Close() //nolint:errcheck
	h.broadcastPresence(documentID.String())
}

// ActiveUsers returns the distinct users currently present in the document's
// room, in unspecified order.
func (h *Hub) ActiveUsers(documentID document.DocumentID) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[documentID.String()]
	seen := make(map[string]bool, len(room))
	users := make([]string, 0, len(room))
	for subscriber := range room {
		if seen[subscriber.userID] {
			continue
		}
		seen[subscriber.userID] = true
		users = append(users, subscriber.userID)
	}
	return users, nil
}

// NotifySaved announces a confirmed persist to everyone in the document's
// room.
func (h *Hub) NotifySaved(documentID document.DocumentID, userID document.UserID) {
	h.publish(documentID.String(), Message{
		Type:       EventDocumentSaved,
		DocumentID: documentID.String(),
		UserID:     userID.String(),
		Timestamp:  h.clock().UTC(),
	})
}

func (h *Hub) register(documentID string, subscriber *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[documentID] == nil {
		h.rooms[documentID] = make(map[*client]bool)
	}
	h.rooms[documentID][subscriber] = true
}

func (h *Hub) unregister(documentID string, subscriber *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[documentID]
	if room == nil {
		return
	}
	delete(room, subscriber)
	if len(room) == 0 {
		delete(h.rooms, documentID)
	}
}

func (h *Hub) broadcastPresence(documentID string) {
	users, _ := h.ActiveUsers(document.DocumentID(documentID))
	payload, err := json.Marshal(map[string][]string{"active_users": users})
	if err != nil {
		h.logger.Warn("presence payload encoding failed", zap.Error(err))
		return
	}
	h.publish(documentID, Message{
		Type:       EventPresenceUpdate,
		DocumentID: documentID,
		Payload:    payload,
		Timestamp:  h.clock().UTC(),
	})
}

func (h *Hub) publish(documentID string, message Message) {
	h.mu.RLock()
	room := h.rooms[documentID]
	subscribers := make([]*client, 0, len(room))
	for subscriber := range room {
		subscribers = append(subscribers, subscriber)
	}
	h.mu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber.send <- message:
		default:
			// Drop rather than block the room on a slow subscriber.
		}
	}
}
