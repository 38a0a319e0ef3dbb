package ws

import "encoding/json"

// Message types carried over the websocket.
const (
	TypeJoin  = "join"  // client -> server: open a session on a document
	TypeLoad  = "load"  // server -> client: snapshot reply to join, exactly once
	TypeEdit  = "edit"  // both directions: opaque delta, relayed verbatim
	TypeSave  = "save"  // client -> server: full-content autosave checkpoint
	TypeError = "error" // server -> client: join failure, client may retry
)

// Envelope is the JSON frame exchanged in both directions. Delta and Content
// are opaque rich-text payloads; the server never inspects them.
type Envelope struct {
	Type       string          `json:"type"`
	DocID      string          `json:"doc_id,omitempty"`
	Delta      json.RawMessage `json:"delta,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	Message    string          `json:"message,omitempty"`
	AutosaveMS int             `json:"autosave_ms,omitempty"`
}
