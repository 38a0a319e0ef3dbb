package hub

import "sync"

// Subscriber receives payloads broadcast to a room it has joined. Deliver
// must not block the caller; implementations are expected to queue and drop
// on overflow.
type Subscriber interface {
	Deliver(payload []byte)
}

// Hub maps document ids to the set of live subscribers editing them. It is
// rebuilt from scratch on process restart; nothing here is persisted.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Subscriber]struct{}
	relay *Relay
}

func New() *Hub {
	return &Hub{rooms: make(map[string]map[Subscriber]struct{})}
}

// SetRelay attaches a cross-instance relay. Broadcasts are then also
// published to redis so rooms spanning several server processes stay in sync.
func (h *Hub) SetRelay(r *Relay) {
	h.relay = r
}

// Join adds the subscriber to the room for docID. Joining twice is a no-op.
func (h *Hub) Join(docID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[docID]
	if !ok {
		room = make(map[Subscriber]struct{})
		h.rooms[docID] = room
	}
	room[sub] = struct{}{}
}

// Leave removes the subscriber from the room. No-op if it never joined.
// Empty rooms are dropped so the map does not grow with dead ids.
func (h *Hub) Leave(docID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[docID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, docID)
	}
}

// Broadcast delivers payload to every member of the room except sender.
// Delivery is fire-and-forget: no acknowledgment and no retry.
func (h *Hub) Broadcast(docID string, sender Subscriber, payload []byte) {
	h.broadcastLocal(docID, sender, payload)
	if h.relay != nil {
		h.relay.publish(docID, payload)
	}
}

func (h *Hub) broadcastLocal(docID string, sender Subscriber, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[docID] {
		if sub == sender {
			continue
		}
		sub.Deliver(payload)
	}
}

// RoomSize reports the current number of subscribers for docID.
func (h *Hub) RoomSize(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}
