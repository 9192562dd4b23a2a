package tracking

import (
	"encoding/json"
	"strings"
)

// PropertyChangeEvent reports one property assignment somewhere below a
// tracked root. Path is empty where the change originates and gains one
// segment per ancestor on the way up ("Entries.3.Color").
type PropertyChangeEvent struct {
	Path     string
	OldValue any
	NewValue any

	// OnCollection is set when the object whose property changed is itself
	// an observable collection (its Count, for instance).
	OnCollection bool
}

// CollectionAction is the canonical collection mutation vocabulary.
type CollectionAction int

const (
	Add CollectionAction = iota
	Remove
	Reset
)

var actionNames = map[CollectionAction]string{
	Add:    "add",
	Remove: "remove",
	Reset:  "reset",
}

var actionFromName = map[string]CollectionAction{
	"add":    Add,
	"remove": Remove,
	"reset":  Reset,
}

func (a CollectionAction) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

func (a CollectionAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *CollectionAction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := actionFromName[s]; ok {
		*a = v
	}
	return nil
}

// CollectionChangeEvent reports one Add, Remove or Reset on an observable
// collection. StartingIndex is -1 for Reset and for appends whose position
// the source did not report.
type CollectionChangeEvent struct {
	Path          string
	Action        CollectionAction
	Items         []any
	StartingIndex int
}

// JoinPath prefixes child with segment using the dotted path rule.
func JoinPath(segment, child string) string {
	if child == "" {
		return segment
	}
	return segment + "." + child
}

// LastSegment returns the final dotted segment of path.
func LastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
