// Package mock keeps a few demo schedules busy so connected clients have
// something to watch.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/schedule-sync/backend/internal/schedule"
)

// Editor is the part of schedule.Service the generator drives.
type Editor interface {
	Create(ctx context.Context, name, term string) (*schedule.Schedule, error)
	AddCourse(id, courseID string) (json.RawMessage, error)
	RemoveCourse(id, courseID string) error
	SetColor(id, courseID, color string) error
	SetHidden(id, courseID string, hidden bool) error
	Rename(id, name string) error
}

type mockSchedule struct {
	id      string
	name    string
	pattern string
	// courses on the schedule, oldest first
	courses   []string
	hidden    map[string]bool
	maxSize   int
	next      int
	renamedAt int
}

var demoColors = []string{"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd", "#8c564b"}

type MockGenerator struct {
	editor   Editor
	courses  []string
	interval time.Duration
	rng      *rand.Rand

	mu        sync.Mutex
	schedules []*mockSchedule
	tick      int
}

// NewGenerator edits demo schedules built from the given catalog course ids
// once per interval.
func NewGenerator(editor Editor, courses []string, interval time.Duration) *MockGenerator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &MockGenerator{
		editor:   editor,
		courses:  courses,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start creates the demo schedules and begins editing them until ctx is
// done. The schedules exist when Start returns.
func (g *MockGenerator) Start(ctx context.Context) error {
	defs := []*mockSchedule{
		{name: "Demo: builder", pattern: "builder", maxSize: 4},
		{name: "Demo: designer", pattern: "designer", maxSize: 3},
		{name: "Demo: toggler", pattern: "toggler", maxSize: 3},
	}
	for _, ms := range defs {
		sch, err := g.editor.Create(ctx, ms.name, "Demo")
		if err != nil {
			return fmt.Errorf("create %s: %w", ms.name, err)
		}
		ms.id = sch.ID()
		ms.hidden = make(map[string]bool)
		glog.Infof("[mock] %s schedule %s", ms.pattern, ms.id)
	}
	g.mu.Lock()
	g.schedules = defs
	g.mu.Unlock()

	go g.run(ctx)
	return nil
}

// ScheduleIDs returns the ids of the demo schedules.
func (g *MockGenerator) ScheduleIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, len(g.schedules))
	for i, ms := range g.schedules {
		ids[i] = ms.id
	}
	return ids
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.step()
		}
	}
}

// step advances every demo schedule by one tick.
func (g *MockGenerator) step() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tick++
	for _, ms := range g.schedules {
		var err error
		switch ms.pattern {
		case "builder":
			err = g.advanceBuilder(ms)
		case "designer":
			err = g.advanceDesigner(ms)
		case "toggler":
			err = g.advanceToggler(ms)
		}
		if err != nil {
			glog.Warningf("[mock] %s: %v", ms.name, err)
		}
	}
}

// fill tops the schedule up to size with courses not yet on it.
func (g *MockGenerator) fill(ms *mockSchedule, size int) error {
	for _, id := range g.courses {
		if len(ms.courses) >= size {
			return nil
		}
		if ms.has(id) {
			continue
		}
		if _, err := g.editor.AddCourse(ms.id, id); err != nil {
			return err
		}
		ms.courses = append(ms.courses, id)
	}
	return nil
}

// advanceBuilder adds one course per tick and drops the oldest once full.
func (g *MockGenerator) advanceBuilder(ms *mockSchedule) error {
	if len(g.courses) == 0 {
		return nil
	}
	if len(ms.courses) >= ms.maxSize || len(ms.courses) == len(g.courses) {
		oldest := ms.courses[0]
		if err := g.editor.RemoveCourse(ms.id, oldest); err != nil {
			return err
		}
		ms.courses = ms.courses[1:]
		delete(ms.hidden, oldest)
		return nil
	}
	for range g.courses {
		id := g.courses[ms.next%len(g.courses)]
		ms.next++
		if ms.has(id) {
			continue
		}
		if _, err := g.editor.AddCourse(ms.id, id); err != nil {
			return err
		}
		ms.courses = append(ms.courses, id)
		return nil
	}
	return nil
}

// advanceDesigner recolours a random entry, renaming the draft now and then.
func (g *MockGenerator) advanceDesigner(ms *mockSchedule) error {
	if err := g.fill(ms, ms.maxSize); err != nil {
		return err
	}
	if len(ms.courses) == 0 {
		return nil
	}
	if g.tick-ms.renamedAt >= 10 {
		ms.renamedAt = g.tick
		if err := g.editor.Rename(ms.id, fmt.Sprintf("Demo: designer (draft %d)", g.tick/10)); err != nil {
			return err
		}
	}
	course := ms.courses[g.rng.Intn(len(ms.courses))]
	return g.editor.SetColor(ms.id, course, demoColors[g.rng.Intn(len(demoColors))])
}

// advanceToggler hides and shows its entries in turn.
func (g *MockGenerator) advanceToggler(ms *mockSchedule) error {
	if err := g.fill(ms, ms.maxSize); err != nil {
		return err
	}
	if len(ms.courses) == 0 {
		return nil
	}
	course := ms.courses[g.tick%len(ms.courses)]
	ms.hidden[course] = !ms.hidden[course]
	return g.editor.SetHidden(ms.id, course, ms.hidden[course])
}

func (ms *mockSchedule) has(id string) bool {
	for _, c := range ms.courses {
		if c == id {
			return true
		}
	}
	return false
}
