package hub

import (
	"context"
	"encoding/json"
	"log"

	"codocs/internal/redis"

	"github.com/google/uuid"
)

const (
	relayChannel   = "codocs:edits"
	relayQueueSize = 64
)

type relayMessage struct {
	Origin  string          `json:"origin"`
	DocID   string          `json:"doc_id"`
	Payload json.RawMessage `json:"payload"`
}

// Relay mirrors room broadcasts through a redis pub/sub channel so that
// clients connected to different server processes see each other's edits.
// Every instance tags its messages with a random origin id and skips its own.
// Outbound messages go through a buffered queue drained by Start, so a
// broadcast never waits on a redis round trip.
type Relay struct {
	client *redis.Client
	origin string
	queue  chan relayMessage
}

func NewRelay(client *redis.Client) *Relay {
	return &Relay{
		client: client,
		origin: uuid.NewString(),
		queue:  make(chan relayMessage, relayQueueSize),
	}
}

// Start subscribes to the relay channel, applies edits published by other
// instances to the local hub, and drains the publish queue. Runs until ctx
// is cancelled.
func (r *Relay) Start(ctx context.Context, h *Hub) {
	if r == nil || r.client == nil {
		return
	}
	pubsub := r.client.Subscribe(ctx, relayChannel)
	if pubsub == nil {
		return
	}
	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()
	go func() {
		for msg := range pubsub.Channel() {
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.Printf("relay decode failed: %v", err)
				continue
			}
			if m.Origin == r.origin {
				continue
			}
			h.broadcastLocal(m.DocID, nil, m.Payload)
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-r.queue:
				data, err := json.Marshal(m)
				if err != nil {
					log.Printf("relay marshal failed: %v", err)
					continue
				}
				if err := r.client.Publish(context.Background(), relayChannel, data); err != nil {
					log.Printf("relay publish failed: %v", err)
				}
			}
		}
	}()
}

// publish queues the payload for the publisher goroutine. It never blocks
// the calling broadcast; a full queue drops the edit, like a subscriber with
// a full outbound queue would.
func (r *Relay) publish(docID string, payload []byte) {
	if r == nil || r.client == nil {
		return
	}
	select {
	case r.queue <- relayMessage{Origin: r.origin, DocID: docID, Payload: payload}:
	default:
		log.Printf("relay queue full, dropping edit for %s", docID)
	}
}
