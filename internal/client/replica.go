// Package client follows synchronized objects from the outside: it keeps a
// JSON copy of each subscribed object and patches it as events arrive.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"
)

var (
	ErrUnknownKey = errors.New("no document for key")
	ErrSeqGap     = errors.New("frames were skipped")
)

// ServerError is an error frame sent by the server.
type ServerError struct {
	Message string
	Key     string
}

func (e *ServerError) Error() string {
	if e.Key == "" {
		return "server: " + e.Message
	}
	return fmt.Sprintf("server (%s): %s", e.Key, e.Message)
}

// Replica holds one JSON document per subscription key.
type Replica struct {
	mu   sync.RWMutex
	docs map[string][]byte
	seq  uint64
}

func NewReplica() *Replica {
	return &Replica{docs: make(map[string][]byte)}
}

// Reset forgets every document and the frame counter, as after a reconnect.
func (r *Replica) Reset() {
	r.mu.Lock()
	r.docs = make(map[string][]byte)
	r.seq = 0
	r.mu.Unlock()
}

// Apply folds one frame into the replica and returns the key it touched.
// A frame whose seq does not follow the previous one is still applied, but
// ErrSeqGap is returned so the caller can resubscribe.
func (r *Replica) Apply(msg WSMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var gap error
	if msg.Seq != 0 {
		if r.seq != 0 && msg.Seq != r.seq+1 {
			gap = fmt.Errorf("%w: got %d after %d", ErrSeqGap, msg.Seq, r.seq)
		}
		r.seq = msg.Seq
	}
	key, err := r.apply(msg)
	if err != nil {
		return key, err
	}
	return key, gap
}

func (r *Replica) apply(msg WSMessage) (string, error) {
	switch msg.Type {
	case MsgInitializeObject:
		var p InitializeObjectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", err
		}
		r.docs[p.Key] = []byte(p.Snapshot)
		return p.Key, nil

	case MsgRemoveObject:
		var p RemoveObjectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", err
		}
		delete(r.docs, p.Key)
		return p.Key, nil

	case MsgPropertyChanged:
		var p PropertyChangedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", err
		}
		value := p.Value
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		return p.Key, r.patch(p.Key, []patchOp{{Op: "add", Path: pointer(p.Path), Value: value}})

	case MsgCollectionChanged:
		var p CollectionChangedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", err
		}
		ops, err := collectionOps(p)
		if err != nil {
			return p.Key, err
		}
		return p.Key, r.patch(p.Key, ops)

	case MsgError:
		var p ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", err
		}
		return p.Key, &ServerError{Message: p.Message, Key: p.Key}
	}
	return "", fmt.Errorf("unknown message type %q", msg.Type)
}

type patchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

func collectionOps(p CollectionChangedPayload) ([]patchOp, error) {
	base := pointer(p.Path)
	switch p.Action {
	case "add":
		ops := make([]patchOp, 0, len(p.Items))
		for i, item := range p.Items {
			at := base + "/-"
			if p.StartingIndex >= 0 {
				at = base + "/" + strconv.Itoa(p.StartingIndex+i)
			}
			ops = append(ops, patchOp{Op: "add", Path: at, Value: item})
		}
		return ops, nil
	case "remove":
		if p.StartingIndex < 0 {
			return nil, fmt.Errorf("remove at %s without an index", p.Path)
		}
		ops := make([]patchOp, len(p.Items))
		for i := range ops {
			ops[i] = patchOp{Op: "remove", Path: base + "/" + strconv.Itoa(p.StartingIndex)}
		}
		return ops, nil
	case "reset":
		return []patchOp{{Op: "add", Path: base, Value: json.RawMessage("[]")}}, nil
	}
	return nil, fmt.Errorf("unknown collection action %q", p.Action)
}

func (r *Replica) patch(key string, ops []patchOp) error {
	doc, ok := r.docs[key]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownKey, key)
	}
	if len(ops) == 0 {
		return nil
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	p, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return err
	}
	out, err := p.Apply(doc)
	if err != nil {
		return fmt.Errorf("patch %s: %w", key, err)
	}
	r.docs[key] = out
	return nil
}

// pointer turns a dotted event path into a JSON pointer.
func pointer(path string) string {
	if path == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(path, ".") {
		b.WriteByte('/')
		b.WriteString(strings.NewReplacer("~", "~0", "/", "~1").Replace(seg))
	}
	return b.String()
}

// Document returns a copy of the document held under key.
func (r *Replica) Document(key string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), doc...), true
}

// Decode unmarshals the document held under key into v.
func (r *Replica) Decode(key string, v any) error {
	doc, ok := r.Document(key)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownKey, key)
	}
	return json.Unmarshal(doc, v)
}

func (r *Replica) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.docs))
	for k := range r.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Replica) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}
