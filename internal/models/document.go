package models

import (
	"encoding/json"
	"time"
)

// DefaultTitle is assigned to documents created implicitly on first join.
const DefaultTitle = "Untitled"

// EmptyContent is the content of a document that has never been edited.
// Content is an opaque rich-text payload; the server never interprets it
// beyond requiring valid JSON on the wire.
var EmptyContent = json.RawMessage(`""`)

// Document is the persisted record for one collaborative document.
type Document struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
