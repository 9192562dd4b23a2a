package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

type scheduleDoc struct {
	ID           string
	Name         string
	Term         string
	Entries      []entryDoc
	Participants []struct{ DisplayName string }
}

type entryDoc struct {
	CourseID string
	Code     string
	Section  string
	Title    string
	Credits  int
	Color    string
	Hidden   bool
	Meetings []struct {
		Days  []string `json:"days"`
		Start string   `json:"start"`
		End   string   `json:"end"`
	}
}

var (
	headerText = color.New(color.Bold, color.FgCyan).SprintfFunc()
	dimText    = color.New(color.Faint).SprintFunc()
	errorText  = color.New(color.FgRed).SprintFunc()
)

// swatch paints a block in the entry's own color.
func swatch(hex string) string {
	if len(hex) != 7 || hex[0] != '#' {
		return "■"
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return "■"
	}
	return color.RGB(int(v>>16&0xff), int(v>>8&0xff), int(v&0xff)).Sprint("■")
}

func render(doc scheduleDoc, seq uint64) string {
	var b strings.Builder
	b.WriteString(headerText("%s (%s)", doc.Name, doc.Term))
	b.WriteString(dimText(fmt.Sprintf("  #%d", seq)))
	b.WriteByte('\n')

	credits := 0
	for _, e := range doc.Entries {
		line := fmt.Sprintf("%s %-9s %-2s %-32s %dcr  %s", swatch(e.Color), e.Code, e.Section, e.Title, e.Credits, meetings(e))
		if e.Hidden {
			line = dimText(line + " (hidden)")
		} else {
			credits += e.Credits
		}
		b.WriteString("  " + line + "\n")
	}
	if len(doc.Entries) == 0 {
		b.WriteString(dimText("  no courses yet") + "\n")
	}
	b.WriteString(fmt.Sprintf("  %d credits", credits))

	if len(doc.Participants) > 0 {
		names := make([]string, len(doc.Participants))
		for i, p := range doc.Participants {
			names[i] = p.DisplayName
		}
		b.WriteString(dimText("  viewing: " + strings.Join(names, ", ")))
	}
	b.WriteString("\n\n")
	return b.String()
}

func meetings(e entryDoc) string {
	parts := make([]string, len(e.Meetings))
	for i, m := range e.Meetings {
		parts[i] = fmt.Sprintf("%s %s-%s", strings.Join(m.Days, "/"), m.Start, m.End)
	}
	return strings.Join(parts, ", ")
}
