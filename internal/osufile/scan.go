// Package osufile parses osu! beatmap (.osu) documents.
//
// A document is a header line ("osu file format vN") followed by INI-like
// sections. Key/value sections ([General], [Metadata], [Difficulty]) use
// "Key: Value" lines; list sections ([TimingPoints], [HitObjects]) use
// comma-separated records.
package osufile

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const headerPrefix = "osu file format v"

// Magnitude limits for numeric fields. Times and lengths are int32
// milliseconds in osu! itself; coordinates may sit far off the playfield
// but not arbitrarily far.
const (
	MaxValue      = math.MaxInt32
	MaxCoordinate = 131072
)

var errOutOfRange = errors.New("number out of range")

// ParseFloat parses a numeric field. NaN, infinities and values whose
// magnitude exceeds limit are rejected so downstream arithmetic stays finite.
func ParseFloat(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.Abs(v) > limit {
		return 0, errOutOfRange
	}
	return v, nil
}

// ParseError reports malformed document content.
type ParseError struct {
	Line    int // 1-based, 0 when not tied to a line
	Section string
	Msg     string
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Section != "":
		return fmt.Sprintf("parse beatmap: line %d [%s]: %s", e.Line, e.Section, e.Msg)
	case e.Line > 0:
		return fmt.Sprintf("parse beatmap: line %d: %s", e.Line, e.Msg)
	default:
		return "parse beatmap: " + e.Msg
	}
}

// LineFunc receives one content line of a section. Blank lines and comments
// are never passed.
type LineFunc func(section, line string, lineNo int) error

// Scan validates the header, then calls fn for every content line, tagged
// with its section name. It returns the format version from the header.
// Errors returned by fn are passed through unchanged.
func Scan(doc string, fn LineFunc) (int, error) {
	sc := bufio.NewScanner(strings.NewReader(doc))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	version := -1
	section := ""
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}

		if version < 0 {
			if !strings.HasPrefix(line, headerPrefix) {
				return 0, &ParseError{Line: lineNo, Msg: "missing \"osu file format\" header"}
			}
			v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, headerPrefix)))
			if err != nil {
				return 0, &ParseError{Line: lineNo, Msg: "invalid format version"}
			}
			version = v
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}

		if err := fn(section, line, lineNo); err != nil {
			return 0, err
		}
	}
	if err := sc.Err(); err != nil {
		return 0, &ParseError{Line: lineNo, Msg: err.Error()}
	}
	if version < 0 {
		return 0, &ParseError{Msg: "empty document"}
	}
	return version, nil
}

// SplitKeyValue splits a "Key: Value" line. ok is false if there is no colon.
func SplitKeyValue(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}
