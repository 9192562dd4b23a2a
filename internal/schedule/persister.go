package schedule

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/schedule-sync/backend/internal/synchronize"
	"github.com/schedule-sync/backend/internal/tracking"
)

// Persister writes a live schedule back to the Store a short delay after
// it last changed, and once more when the schedule is closed.
type Persister struct {
	store *Store
	obj   *synchronize.Object
	delay time.Duration

	// saving is held for a whole Flush so Close waits for a timed save
	// that is already writing.
	saving sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	dirty   bool
	closed  bool
	cancels []func()
}

func NewPersister(store *Store, obj *synchronize.Object, delay time.Duration) *Persister {
	p := &Persister{store: store, obj: obj, delay: delay}
	tr := obj.Tracker()
	p.cancels = []func(){
		tr.OnPropertyChanged(func(ev tracking.PropertyChangeEvent) { p.touch(ev.Path) }),
		tr.OnCollectionChanged(func(ev tracking.CollectionChangeEvent) { p.touch(ev.Path) }),
	}
	obj.OnClose(p.Close)
	return p
}

// touch schedules a save. Presence changes are not persisted.
func (p *Persister) touch(path string) {
	if path == "Participants" || strings.HasPrefix(path, "Participants.") {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.dirty = true
	if p.timer == nil {
		p.timer = time.AfterFunc(p.delay, func() { p.Flush() })
	}
}

// Flush saves immediately if there are unsaved changes.
func (p *Persister) Flush() error {
	p.saving.Lock()
	defer p.saving.Unlock()

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	dirty := p.dirty
	p.dirty = false
	p.mu.Unlock()
	if !dirty {
		return nil
	}

	body, err := p.obj.Snapshot()
	if err == nil {
		err = p.store.Save(context.Background(), body)
	}
	if err != nil {
		glog.Errorf("[persist] %s: %v", p.obj.Key(), err)
		return err
	}
	glog.V(1).Infof("[persist] %s saved", p.obj.Key())
	return nil
}

// Close stops listening and flushes pending changes.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	p.Flush()
}
