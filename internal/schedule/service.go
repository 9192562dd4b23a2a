// Package schedule holds the shared schedule documents, their storage and
// the operations collaborators apply to them.
package schedule

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/schedule-sync/backend/internal/catalog"
	"github.com/schedule-sync/backend/internal/synchronize"
)

// Channel is the synchronization channel kind schedules are published on.
const Channel = "schedule"

var (
	ErrDuplicateEntry = errors.New("course already on schedule")
	ErrInvalid        = errors.New("invalid request")
)

// Courses resolves catalog ids. *catalog.Catalog implements it.
type Courses interface {
	Course(id string) (catalog.Course, bool)
}

// palette cycles through entry colors as courses are added.
var palette = []string{"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f", "#edc948", "#b07aa1", "#ff9da7"}

// Service applies edits to schedules. A schedule with subscribers stays
// live in the synchronization context and edits reach every subscriber;
// otherwise it is loaded for the edit and written back straight after.
type Service struct {
	store   *Store
	courses Courses
	ctx     *synchronize.Context
	now     func() time.Time
}

// NewService publishes schedules on the "schedule" context of reg. Every
// schedule that becomes live gets a Persister with the given delay.
func NewService(store *Store, courses Courses, reg *synchronize.Registry, persistDelay time.Duration) *Service {
	s := &Service{
		store:   store,
		courses: courses,
		ctx:     reg.Context(Channel),
		now:     time.Now,
	}
	s.ctx.OnCreate(func(obj *synchronize.Object) {
		NewPersister(store, obj, persistDelay)
	})
	return s
}

// Loader returns the function the synchronization context uses to bring the
// schedule id live.
func (s *Service) Loader(id string) func() (any, error) {
	return func() (any, error) {
		return s.store.Load(context.Background(), id)
	}
}

// Create stores a new empty schedule and returns it.
func (s *Service) Create(ctx context.Context, name, term string) (*Schedule, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	id := ulid.MustNew(ulid.Timestamp(s.now()), rand.Reader).String()
	sch := New(id, name, strings.TrimSpace(term))
	body, err := json.Marshal(sch)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, body); err != nil {
		return nil, err
	}
	glog.Infof("[schedule] created %s %q", id, name)
	return sch, nil
}

func (s *Service) List(ctx context.Context) ([]Summary, error) {
	return s.store.List(ctx)
}

// View is a read-only summary of a schedule with its derived values.
type View struct {
	Schedule  json.RawMessage `json:"schedule"`
	Credits   int             `json:"credits"`
	Conflicts []Conflict      `json:"conflicts"`
	Live      bool            `json:"live"`
}

// Get returns the current state of schedule id.
func (s *Service) Get(id string) (*View, error) {
	_, live := s.ctx.Get(id)
	var v View
	err := s.with(id, func(obj *synchronize.Object, sch *Schedule) error {
		var err error
		obj.View(func() {
			v.Schedule, err = json.Marshal(sch)
			v.Credits = sch.Credits()
			v.Conflicts = sch.Conflicts()
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if v.Conflicts == nil {
		v.Conflicts = []Conflict{}
	}
	v.Live = live
	return &v, nil
}

// Delete drops the schedule, telling every subscriber to remove it. The
// row is deleted while the key is held, so a concurrent edit can neither
// reload it nor write it back.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.ctx.RemoveWith(id, func() error {
		var err error
		deleted, err = s.store.Delete(ctx, id)
		return err
	})
	return deleted, err
}

// AddCourse appends the catalog course to schedule id and returns the new
// entry as it was encoded inside the edit.
func (s *Service) AddCourse(id, courseID string) (json.RawMessage, error) {
	course, ok := s.courses.Course(courseID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", courseID, catalog.ErrUnknownCourse)
	}
	var added json.RawMessage
	err := s.mutate(id, func(sch *Schedule) error {
		if e, _ := sch.Entry(courseID); e != nil {
			return fmt.Errorf("%s: %w", courseID, ErrDuplicateEntry)
		}
		e := NewEntry(course, palette[sch.Entries().Len()%len(palette)])
		body, err := json.Marshal(e)
		if err != nil {
			return err
		}
		sch.Entries().Append(e)
		added = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveCourse takes courseID off schedule id.
func (s *Service) RemoveCourse(id, courseID string) error {
	return s.mutate(id, func(sch *Schedule) error {
		_, i := sch.Entry(courseID)
		if i < 0 {
			return fmt.Errorf("entry %s: %w", courseID, ErrNotFound)
		}
		sch.Entries().RemoveAt(i)
		return nil
	})
}

// EntryPatch changes the presentation of one entry. Nil fields are left
// alone.
type EntryPatch struct {
	Color  *string `json:"color,omitempty"`
	Hidden *bool   `json:"hidden,omitempty"`
}

func (s *Service) UpdateEntry(id, courseID string, patch EntryPatch) error {
	if patch.Color != nil && !validColor(*patch.Color) {
		return fmt.Errorf("%w: color %q", ErrInvalid, *patch.Color)
	}
	return s.mutate(id, func(sch *Schedule) error {
		e, _ := sch.Entry(courseID)
		if e == nil {
			return fmt.Errorf("entry %s: %w", courseID, ErrNotFound)
		}
		if patch.Color != nil {
			e.SetColor(*patch.Color)
		}
		if patch.Hidden != nil {
			e.SetHidden(*patch.Hidden)
		}
		return nil
	})
}

func (s *Service) SetColor(id, courseID, color string) error {
	return s.UpdateEntry(id, courseID, EntryPatch{Color: &color})
}

func (s *Service) SetHidden(id, courseID string, hidden bool) error {
	return s.UpdateEntry(id, courseID, EntryPatch{Hidden: &hidden})
}

func (s *Service) Rename(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return s.mutate(id, func(sch *Schedule) error {
		sch.SetName(name)
		return nil
	})
}

// Join records conn as viewing schedule id. Joining twice is a no-op.
func (s *Service) Join(id, conn, displayName string) error {
	if displayName == "" {
		displayName = "guest"
	}
	return s.mutate(id, func(sch *Schedule) error {
		for _, p := range sch.Participants().Items() {
			if p.ConnectionID == conn {
				return nil
			}
		}
		sch.Participants().Append(Participant{
			ConnectionID: conn,
			DisplayName:  displayName,
			JoinedAt:     s.now().UTC(),
		})
		return nil
	})
}

// Leave removes conn from the participants of schedule id.
func (s *Service) Leave(id, conn string) error {
	return s.mutate(id, func(sch *Schedule) error {
		for i, p := range sch.Participants().Items() {
			if p.ConnectionID == conn {
				sch.Participants().RemoveAt(i)
				return nil
			}
		}
		return nil
	})
}

// mutate applies fn to schedule id inside Object.Mutate.
func (s *Service) mutate(id string, fn func(*Schedule) error) error {
	return s.with(id, func(obj *synchronize.Object, sch *Schedule) error {
		var ferr error
		if err := obj.Mutate(func() { ferr = fn(sch) }); err != nil {
			return err
		}
		return ferr
	})
}

// with brings schedule id live for the duration of fn. A schedule nobody
// subscribes to is closed, and so saved, once fn returns. A release that
// races with fn surfaces as ErrClosed and fn is retried on a fresh load.
func (s *Service) with(id string, fn func(*synchronize.Object, *Schedule) error) error {
	const attempts = 3
	var err error
	for range attempts {
		var obj *synchronize.Object
		obj, err = s.ctx.GetOrAdd(id, s.Loader(id))
		if err != nil {
			return err
		}
		sch, ok := obj.Value().(*Schedule)
		if !ok {
			return fmt.Errorf("%s is a %T, not a schedule", id, obj.Value())
		}
		err = fn(obj, sch)
		s.ctx.Release(id)
		if !errors.Is(err, synchronize.ErrClosed) {
			return err
		}
	}
	return err
}

func validColor(c string) bool {
	if len(c) != 7 || c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
