package analysis

import (
	"fmt"
	"strings"
)

// Mode selects which analyzers run.
type Mode int

const (
	ModeStream Mode = iota
	ModeJump
	ModeAll
)

// Modes lists the accepted mode names.
var Modes = []string{"stream", "jump", "all"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(Modes) {
		return Modes[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ModeError reports an unrecognised analysis mode. It is a caller error.
// The message names the accepted modes only; Value is for logging.
type ModeError struct {
	Value string
}

func (e *ModeError) Error() string {
	quoted := make([]string, len(Modes))
	for i, m := range Modes {
		quoted[i] = "`" + m + "`"
	}
	return "`analyze_type` must be either: " + strings.Join(quoted, ", ") + "."
}

// ParseMode parses a mode name, ignoring case.
func ParseMode(s string) (Mode, error) {
	for i, name := range Modes {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, &ModeError{Value: s}
}
