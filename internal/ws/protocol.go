package ws

import (
	"encoding/json"

	"github.com/schedule-sync/backend/internal/tracking"
)

type MessageType string

const (
	MsgInitializeObject  MessageType = "initializeObject"
	MsgRemoveObject      MessageType = "removeObject"
	MsgPropertyChanged   MessageType = "propertyChanged"
	MsgCollectionChanged MessageType = "collectionChanged"
	MsgError             MessageType = "error"

	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
)

// WSMessage is the envelope of every frame. Seq counts frames sent to one
// connection, starting at 1.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq,omitempty"`
	Payload interface{} `json:"payload"`
}

// Envelope is WSMessage with the payload left encoded, for readers.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type InitializeObjectPayload struct {
	Key      string          `json:"key"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type RemoveObjectPayload struct {
	Key string `json:"key"`
}

type PropertyChangedPayload struct {
	Key   string `json:"key"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type CollectionChangedPayload struct {
	Key           string                    `json:"key"`
	Path          string                    `json:"path"`
	Action        tracking.CollectionAction `json:"action"`
	Items         []any                     `json:"items"`
	StartingIndex int                       `json:"startingIndex"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Key     string `json:"key,omitempty"`
}

type SubscribePayload struct {
	Key     string `json:"key"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
}

type UnsubscribePayload struct {
	Key string `json:"key"`
}
