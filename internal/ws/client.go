package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"codocs/internal/hub"
	"codocs/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

// Documents is the persistence surface the protocol handler needs.
// Implemented by document.Service.
type Documents interface {
	GetOrCreate(ctx context.Context, id string) (*models.Document, bool, error)
	Upsert(ctx context.Context, id string, content json.RawMessage, ts time.Time) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one websocket connection's session. It moves through three
// states: unjoined (docID empty), joined, closed. Edit and save frames
// received while unjoined are dropped.
type Client struct {
	hub        *hub.Hub
	docs       Documents
	conn       *websocket.Conn
	send       chan []byte
	docID      string
	autosaveMS int
}

// ServeWS upgrades the request and runs the connection until it closes.
func ServeWS(h *hub.Hub, docs Documents, autosaveMS int, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	c := &Client{
		hub:        h,
		docs:       docs,
		conn:       conn,
		send:       make(chan []byte, sendQueueSize),
		autosaveMS: autosaveMS,
	}
	go c.writePump()
	c.readPump()
}

// Deliver implements hub.Subscriber. It never blocks the broadcaster: when
// the outbound queue is full the payload is dropped.
func (c *Client) Deliver(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

// readPump drives the session state machine. Each connection's frames are
// handled sequentially here, which is what keeps edits FIFO per sender and
// autosaves ordered within one session.
func (c *Client) readPump() {
	defer func() {
		if c.docID != "" {
			c.hub.Leave(c.docID, c)
		}
		close(c.send)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read failed: %v", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("dropping malformed frame: %v", err)
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env Envelope) {
	switch env.Type {
	case TypeJoin:
		c.handleJoin(env)
	case TypeEdit:
		if c.docID == "" || env.DocID != c.docID {
			return
		}
		payload, err := json.Marshal(Envelope{Type: TypeEdit, DocID: c.docID, Delta: env.Delta})
		if err != nil {
			return
		}
		c.hub.Broadcast(c.docID, c, payload)
	case TypeSave:
		if c.docID == "" || env.DocID != c.docID {
			return
		}
		if err := c.docs.Upsert(context.Background(), c.docID, env.Content, time.Now().UTC()); err != nil {
			// A failed autosave only means a stale durable copy until the
			// next one succeeds; the live session keeps going.
			log.Printf("autosave for %s failed: %v", c.docID, err)
		}
	}
}

func (c *Client) handleJoin(env Envelope) {
	if c.docID != "" {
		// one join per connection
		return
	}
	id := strings.TrimSpace(env.DocID)
	if id == "" {
		c.reply(Envelope{Type: TypeError, Message: "doc_id is required"})
		return
	}
	doc, _, err := c.docs.GetOrCreate(context.Background(), id)
	if err != nil {
		log.Printf("join %s failed: %v", id, err)
		c.reply(Envelope{Type: TypeError, Message: "document unavailable"})
		return
	}
	c.docID = id
	c.hub.Join(id, c)
	log.Printf("session joined %s, %d in room", id, c.hub.RoomSize(id))
	c.reply(Envelope{Type: TypeLoad, DocID: id, Content: doc.Content, AutosaveMS: c.autosaveMS})
}

func (c *Client) reply(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("encode reply failed: %v", err)
		return
	}
	c.Deliver(payload)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
