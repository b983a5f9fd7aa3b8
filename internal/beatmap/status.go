package beatmap

import (
	"fmt"
	"strings"
)

// ID identifies a single difficulty in the osu! catalog.
type ID uint32

// Status is a beatmap's publication status as reported by the catalog.
// Values match the osu! API's integer "ranked" field.
type Status int

const (
	StatusGraveyard Status = -2
	StatusWIP       Status = -1
	StatusPending   Status = 0
	StatusRanked    Status = 1
	StatusApproved  Status = 2
	StatusQualified Status = 3
	StatusLoved     Status = 4
)

var statusNames = map[Status]string{
	StatusGraveyard: "graveyard",
	StatusWIP:       "wip",
	StatusPending:   "pending",
	StatusRanked:    "ranked",
	StatusApproved:  "approved",
	StatusQualified: "qualified",
	StatusLoved:     "loved",
}

// Mutable reports whether the map's upstream content may still change.
// Cached copies of mutable maps are never trusted.
func (s Status) Mutable() bool {
	switch s {
	case StatusGraveyard, StatusWIP, StatusPending:
		return true
	}
	return false
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus parses the catalog's textual status ("ranked", "wip", ...).
func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown beatmap status %q", s)
}
