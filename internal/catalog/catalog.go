// Package catalog holds the read-only course offering that schedules are
// built from.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrUnknownCourse = errors.New("unknown course")

var weekdays = map[string]bool{
	"Mon": true, "Tue": true, "Wed": true, "Thu": true, "Fri": true, "Sat": true, "Sun": true,
}

type Course struct {
	ID          string    `yaml:"id" json:"id"`
	Code        string    `yaml:"code" json:"code"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description,omitempty"`
	Credits     int       `yaml:"credits" json:"credits"`
	Section     string    `yaml:"section" json:"section,omitempty"`
	Instructor  string    `yaml:"instructor" json:"instructor,omitempty"`
	Meetings    []Meeting `yaml:"meetings" json:"meetings"`
}

type file struct {
	Courses []Course `yaml:"courses"`
}

type Catalog struct {
	courses []Course
	byID    map[string]int
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return New(f.Courses)
}

// New builds a catalog from courses, ordered by code then section.
func New(courses []Course) (*Catalog, error) {
	c := &Catalog{
		courses: make([]Course, len(courses)),
		byID:    make(map[string]int, len(courses)),
	}
	copy(c.courses, courses)
	sort.SliceStable(c.courses, func(i, j int) bool {
		a, b := c.courses[i], c.courses[j]
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Section < b.Section
	})
	for i, course := range c.courses {
		if course.ID == "" {
			return nil, fmt.Errorf("course %q has no id", course.Code)
		}
		if _, dup := c.byID[course.ID]; dup {
			return nil, fmt.Errorf("duplicate course id %q", course.ID)
		}
		for _, m := range course.Meetings {
			if err := m.validate(); err != nil {
				return nil, fmt.Errorf("course %s: %w", course.ID, err)
			}
		}
		c.byID[course.ID] = i
	}
	return c, nil
}

// Course returns the course with the given id.
func (c *Catalog) Course(id string) (Course, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Course{}, false
	}
	return c.courses[i], true
}

func (c *Catalog) Len() int { return len(c.courses) }

// IDs lists every course id in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.courses))
	for i, course := range c.courses {
		ids[i] = course.ID
	}
	return ids
}

// Meeting is one weekly time block. Start and End are "HH:MM" in 24h time.
type Meeting struct {
	Days     []string `yaml:"days" json:"days"`
	Start    string   `yaml:"start" json:"start"`
	End      string   `yaml:"end" json:"end"`
	Location string   `yaml:"location" json:"location,omitempty"`
}

func (m Meeting) validate() error {
	if len(m.Days) == 0 {
		return fmt.Errorf("meeting %s-%s has no days", m.Start, m.End)
	}
	for _, d := range m.Days {
		if !weekdays[d] {
			return fmt.Errorf("unknown day %q", d)
		}
	}
	start, end, err := m.Minutes()
	if err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("meeting ends at %s before it starts at %s", m.End, m.Start)
	}
	return nil
}

// Minutes returns the start and end as minutes after midnight.
func (m Meeting) Minutes() (start, end int, err error) {
	if start, err = clock(m.Start); err != nil {
		return 0, 0, err
	}
	if end, err = clock(m.End); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Overlaps reports whether m and o share a day and a time range.
func (m Meeting) Overlaps(o Meeting) bool {
	shared := false
	for _, a := range m.Days {
		for _, b := range o.Days {
			if a == b {
				shared = true
			}
		}
	}
	if !shared {
		return false
	}
	s1, e1, err1 := m.Minutes()
	s2, e2, err2 := o.Minutes()
	if err1 != nil || err2 != nil {
		return false
	}
	return s1 < e2 && s2 < e1
}

func clock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return h*60 + m, nil
}
