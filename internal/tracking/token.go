package tracking

// token owns the Tracker of one nested value and rewrites the child's
// events into the parent's coordinates by prepending segment.
type token struct {
	segment string
	child   *Tracker

	cancelProperty   func()
	cancelCollection func()
	disposed         bool
}

func newToken(parent *Tracker, segment string, v any) (*token, error) {
	child, err := newTracker(v, parent.lineage)
	if err != nil {
		return nil, err
	}
	tok := &token{segment: segment, child: child}
	tok.cancelProperty = child.OnPropertyChanged(func(ev PropertyChangeEvent) {
		ev.Path = JoinPath(tok.segment, ev.Path)
		parent.emitProperty(ev)
	})
	tok.cancelCollection = child.OnCollectionChanged(func(ev CollectionChangeEvent) {
		ev.Path = JoinPath(tok.segment, ev.Path)
		parent.emitCollection(ev)
	})
	return tok, nil
}

func (tok *token) dispose() {
	if tok == nil || tok.disposed {
		return
	}
	tok.disposed = true
	tok.cancelProperty()
	tok.cancelCollection()
	tok.child.Close()
}
