// Package decision holds the pure vote model and tallying rules. Nothing in
// here touches disk; the stores persist these values verbatim.
package decision

import "fmt"

// Category is a sanction severity class. CAT0 is the lenient end (outcome
// text is configurable); CAT1..CAT5 carry fixed time penalties.
type Category string

const (
	Cat0 Category = "CAT0"
	Cat1 Category = "CAT1"
	Cat2 Category = "CAT2"
	Cat3 Category = "CAT3"
	Cat4 Category = "CAT4"
	Cat5 Category = "CAT5"
)

const categoryCount = 6

// Level returns the numeric severity 0..5, or -1 for an unknown value.
func (c Category) Level() int {
	switch c {
	case Cat0:
		return 0
	case Cat1:
		return 1
	case Cat2:
		return 2
	case Cat3:
		return 3
	case Cat4:
		return 4
	case Cat5:
		return 5
	}
	return -1
}

func (c Category) Valid() bool { return c.Level() >= 0 }

// CategoryFromLevel maps a numeric severity back to its label, clamping to
// the valid range.
func CategoryFromLevel(level int) Category {
	if level < 0 {
		level = 0
	}
	if level > 5 {
		level = 5
	}
	return Category(fmt.Sprintf("CAT%d", level))
}

// Track selects which voting subject of an incident an operation applies to.
type Track string

const (
	TrackGuilty   Track = "guilty"
	TrackReporter Track = "reporter"
)

func (t Track) Valid() bool { return t == TrackGuilty || t == TrackReporter }

// VoteEntry is one voter's state on one incident: an independent category and
// plus/minus pair per track. Plus and minus are mutually exclusive within a
// track. An all-empty entry is meaningful: it records that the voter touched
// the incident.
type VoteEntry struct {
	Category *Category `json:"category,omitempty"`
	Plus     bool      `json:"plus,omitempty"`
	Minus    bool      `json:"minus,omitempty"`

	ReporterCategory *Category `json:"reporterCategory,omitempty"`
	ReporterPlus     bool      `json:"reporterPlus,omitempty"`
	ReporterMinus    bool      `json:"reporterMinus,omitempty"`
}

// SetCategory records the voter's category pick on one track; nil clears it.
func (e *VoteEntry) SetCategory(track Track, c *Category) {
	if track == TrackReporter {
		e.ReporterCategory = c
		return
	}
	e.Category = c
}

// SetPlus turns the plus vote on or off; turning it on clears minus.
func (e *VoteEntry) SetPlus(track Track, on bool) {
	if track == TrackReporter {
		e.ReporterPlus = on
		if on {
			e.ReporterMinus = false
		}
		return
	}
	e.Plus = on
	if on {
		e.Minus = false
	}
}

// SetMinus turns the minus vote on or off; turning it on clears plus.
func (e *VoteEntry) SetMinus(track Track, on bool) {
	if track == TrackReporter {
		e.ReporterMinus = on
		if on {
			e.ReporterPlus = false
		}
		return
	}
	e.Minus = on
	if on {
		e.Plus = false
	}
}

func (e VoteEntry) category(track Track) *Category {
	if track == TrackReporter {
		return e.ReporterCategory
	}
	return e.Category
}

func (e VoteEntry) plus(track Track) bool {
	if track == TrackReporter {
		return e.ReporterPlus
	}
	return e.Plus
}

func (e VoteEntry) minus(track Track) bool {
	if track == TrackReporter {
		return e.ReporterMinus
	}
	return e.Minus
}
