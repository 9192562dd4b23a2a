package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Schema is the explicit table of properties a view model type exposes.
// Properties registered with Property are observed; those registered with
// Untracked appear in snapshots but are never observed.
//
// Snapshots are keyed by property name so the paths carried by change
// events address the same members a client received in its snapshot.
type Schema[T any] struct {
	order   []string
	tracked []string
	get     map[string]func(T) any
}

func NewSchema[T any]() *Schema[T] {
	return &Schema[T]{get: make(map[string]func(T) any)}
}

// Property registers a tracked property.
func (s *Schema[T]) Property(name string, get func(T) any) *Schema[T] {
	s.register(name, get)
	s.tracked = append(s.tracked, name)
	return s
}

// Untracked registers a property that is snapshotted but excluded from
// tracking.
func (s *Schema[T]) Untracked(name string, get func(T) any) *Schema[T] {
	s.register(name, get)
	return s
}

func (s *Schema[T]) register(name string, get func(T) any) {
	if _, dup := s.get[name]; dup {
		panic(fmt.Sprintf("tracking: property %q registered twice", name))
	}
	s.order = append(s.order, name)
	s.get[name] = get
}

// Tracked returns the tracked property names in registration order.
func (s *Schema[T]) Tracked() []string {
	out := make([]string, len(s.tracked))
	copy(out, s.tracked)
	return out
}

// Value resolves a property, tracked or not.
func (s *Schema[T]) Value(v T, name string) (any, bool) {
	get, ok := s.get[name]
	if !ok {
		return nil, false
	}
	return get(v), true
}

// Marshal encodes v as a JSON object with one member per registered
// property, in registration order.
func (s *Schema[T]) Marshal(v T) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(s.get[name](v))
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
