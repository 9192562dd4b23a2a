package schedule

import (
	"encoding/json"
	"time"

	"github.com/schedule-sync/backend/internal/catalog"
	"github.com/schedule-sync/backend/internal/tracking"
)

// Entry is one course placed on a schedule. The course fields are fixed
// when the entry is created; only the presentation can change.
type Entry struct {
	tracking.Notifier
	CourseID string
	Code     string
	Title    string
	Credits  int
	Section  string
	Meetings []catalog.Meeting

	color  string
	hidden bool
}

var entrySchema = tracking.NewSchema[*Entry]().
	Untracked("CourseID", func(e *Entry) any { return e.CourseID }).
	Untracked("Code", func(e *Entry) any { return e.Code }).
	Untracked("Title", func(e *Entry) any { return e.Title }).
	Untracked("Credits", func(e *Entry) any { return e.Credits }).
	Untracked("Section", func(e *Entry) any { return e.Section }).
	Property("Color", func(e *Entry) any { return e.color }).
	Property("Hidden", func(e *Entry) any { return e.hidden }).
	Untracked("Meetings", func(e *Entry) any { return e.Meetings })

func NewEntry(c catalog.Course, color string) *Entry {
	return &Entry{
		CourseID: c.ID,
		Code:     c.Code,
		Title:    c.Title,
		Credits:  c.Credits,
		Section:  c.Section,
		Meetings: c.Meetings,
		color:    color,
	}
}

func (e *Entry) Color() string { return e.color }
func (e *Entry) Hidden() bool  { return e.hidden }

func (e *Entry) SetColor(c string) {
	if e.color == c {
		return
	}
	e.color = c
	e.Notify("Color")
}

func (e *Entry) SetHidden(h bool) {
	if e.hidden == h {
		return
	}
	e.hidden = h
	e.Notify("Hidden")
}

func (e *Entry) TrackedProperties() []string           { return entrySchema.Tracked() }
func (e *Entry) PropertyValue(name string) (any, bool) { return entrySchema.Value(e, name) }
func (e *Entry) MarshalJSON() ([]byte, error)          { return entrySchema.Marshal(e) }

type entryDoc struct {
	CourseID string
	Code     string
	Title    string
	Credits  int
	Section  string
	Color    string
	Hidden   bool
	Meetings []catalog.Meeting
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var d entryDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	e.CourseID, e.Code, e.Title = d.CourseID, d.Code, d.Title
	e.Credits, e.Section, e.Meetings = d.Credits, d.Section, d.Meetings
	e.color, e.hidden = d.Color, d.Hidden
	return nil
}

// Participant is someone currently viewing a schedule. Participants are
// presence only and are not persisted.
type Participant struct {
	ConnectionID string
	DisplayName  string
	JoinedAt     time.Time
}

// Schedule is the shared document collaborators edit together.
type Schedule struct {
	tracking.Notifier
	id           string
	name         string
	term         string
	entries      *tracking.List[*Entry]
	participants *tracking.List[Participant]
}

var scheduleSchema = tracking.NewSchema[*Schedule]().
	Untracked("ID", func(s *Schedule) any { return s.id }).
	Property("Name", func(s *Schedule) any { return s.name }).
	Property("Term", func(s *Schedule) any { return s.term }).
	Property("Entries", func(s *Schedule) any { return s.entries }).
	Property("Participants", func(s *Schedule) any { return s.participants })

func New(id, name, term string) *Schedule {
	return &Schedule{
		id:           id,
		name:         name,
		term:         term,
		entries:      tracking.NewList[*Entry](),
		participants: tracking.NewList[Participant](),
	}
}

func (s *Schedule) ID() string                                { return s.id }
func (s *Schedule) Name() string                              { return s.name }
func (s *Schedule) Term() string                              { return s.term }
func (s *Schedule) Entries() *tracking.List[*Entry]           { return s.entries }
func (s *Schedule) Participants() *tracking.List[Participant] { return s.participants }

func (s *Schedule) SetName(v string) {
	if s.name == v {
		return
	}
	s.name = v
	s.Notify("Name")
}

func (s *Schedule) SetTerm(v string) {
	if s.term == v {
		return
	}
	s.term = v
	s.Notify("Term")
}

// Entry returns the entry for courseID and its position.
func (s *Schedule) Entry(courseID string) (*Entry, int) {
	for i, e := range s.entries.Items() {
		if e.CourseID == courseID {
			return e, i
		}
	}
	return nil, -1
}

// Credits sums the credits of visible entries.
func (s *Schedule) Credits() int {
	total := 0
	for _, e := range s.entries.Items() {
		if !e.hidden {
			total += e.Credits
		}
	}
	return total
}

// Conflict names two visible entries with overlapping meetings.
type Conflict struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Conflicts lists every pair of visible entries whose meetings overlap.
func (s *Schedule) Conflicts() []Conflict {
	var visible []*Entry
	for _, e := range s.entries.Items() {
		if !e.hidden {
			visible = append(visible, e)
		}
	}
	var out []Conflict
	for i, a := range visible {
		for _, b := range visible[i+1:] {
			if overlaps(a.Meetings, b.Meetings) {
				out = append(out, Conflict{A: a.CourseID, B: b.CourseID})
			}
		}
	}
	return out
}

func overlaps(a, b []catalog.Meeting) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Overlaps(y) {
				return true
			}
		}
	}
	return false
}

func (s *Schedule) TrackedProperties() []string           { return scheduleSchema.Tracked() }
func (s *Schedule) PropertyValue(name string) (any, bool) { return scheduleSchema.Value(s, name) }
func (s *Schedule) MarshalJSON() ([]byte, error)          { return scheduleSchema.Marshal(s) }

type scheduleDoc struct {
	ID      string
	Name    string
	Term    string
	Entries []*Entry
}

// UnmarshalJSON restores a stored schedule. Participants are dropped.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var d scheduleDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	s.id, s.name, s.term = d.ID, d.Name, d.Term
	s.entries = tracking.NewList(d.Entries...)
	s.participants = tracking.NewList[Participant]()
	return nil
}
