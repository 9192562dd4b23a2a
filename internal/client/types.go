package client

import "encoding/json"

// Wire message types, mirrored from the server protocol.
const (
	MsgInitializeObject  = "initializeObject"
	MsgRemoveObject      = "removeObject"
	MsgPropertyChanged   = "propertyChanged"
	MsgCollectionChanged = "collectionChanged"
	MsgError             = "error"

	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
)

// WSMessage is one frame as read off the socket.
type WSMessage struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type InitializeObjectPayload struct {
	Key      string          `json:"key"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type RemoveObjectPayload struct {
	Key string `json:"key"`
}

type PropertyChangedPayload struct {
	Key   string          `json:"key"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

type CollectionChangedPayload struct {
	Key           string            `json:"key"`
	Path          string            `json:"path"`
	Action        string            `json:"action"`
	Items         []json.RawMessage `json:"items"`
	StartingIndex int               `json:"startingIndex"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Key     string `json:"key,omitempty"`
}

// Subscription names one object to follow under a local key.
type Subscription struct {
	Key     string `json:"key"`
	Channel string `json:"channel"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
}
