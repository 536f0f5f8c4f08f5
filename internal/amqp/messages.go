package amqp

import (
	"encoding/json"
	"time"
)

// Collections named in change messages.
const (
	CollectionGroups     = "groups"
	CollectionEntries    = "entries"
	CollectionCategories = "categories"
	CollectionSnapshot   = "snapshot"
)

// Change operations.
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpRecompute = "recompute"
	OpImport    = "import"
)

// ChangeMessage announces that a record changed. It carries only keys;
// consumers read current state from the store.
type ChangeMessage struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	ID         string    `json:"id,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChangeMessage creates a message stamped with the current time
func NewChangeMessage(collection, op, id, groupID string) *ChangeMessage {
	return &ChangeMessage{
		Collection: collection,
		Op:         op,
		ID:         id,
		GroupID:    groupID,
		Timestamp:  time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON creates a message from JSON bytes
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
