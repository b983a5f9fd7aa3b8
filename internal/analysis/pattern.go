// Package analysis detects note patterns (streams and jumps) in beatmaps.
//
// It uses its own light parse of the document that keeps only what pattern
// detection needs: red-line tempo, circle size and the head of every hit
// object.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/osufile"
)

// NoteKind distinguishes objects that can take part in a pattern.
type NoteKind uint8

const (
	NoteCircle NoteKind = iota
	NoteSlider
	NoteSpinner
)

// Note is the head of a hit object.
type Note struct {
	Time float64
	X, Y float64
	Kind NoteKind
}

func (n Note) dist(o Note) float64 {
	return math.Hypot(n.X-o.X, n.Y-o.Y)
}

type redLine struct {
	time       float64
	beatLength float64
}

// Pattern is the analysis view of a beatmap.
type Pattern struct {
	CircleSize float64
	Notes      []Note
	tempo      []redLine
}

// Parse reads the parts of doc needed for pattern analysis. Malformed
// content yields an *osufile.ParseError.
func Parse(doc string) (*Pattern, error) {
	p := &Pattern{CircleSize: 5}

	_, err := osufile.Scan(doc, func(section, line string, lineNo int) error {
		switch section {
		case "Difficulty":
			if key, value, ok := osufile.SplitKeyValue(line); ok && key == "CircleSize" {
				cs, err := osufile.ParseFloat(value, osufile.MaxValue)
				if err != nil {
					return &osufile.ParseError{Line: lineNo, Section: section, Msg: "invalid CircleSize"}
				}
				p.CircleSize = math.Max(0, math.Min(10, cs))
			}
		case "TimingPoints":
			fields := strings.Split(line, ",")
			if len(fields) < 2 {
				return &osufile.ParseError{Line: lineNo, Section: section, Msg: "too few fields"}
			}
			t, errT := osufile.ParseFloat(fields[0], osufile.MaxValue)
			beat, errB := osufile.ParseFloat(fields[1], osufile.MaxValue)
			if errT != nil || errB != nil {
				return &osufile.ParseError{Line: lineNo, Section: section, Msg: "invalid number"}
			}
			red := beat > 0
			if len(fields) > 6 {
				red = strings.TrimSpace(fields[6]) == "1"
			}
			if red {
				p.tempo = append(p.tempo, redLine{time: t, beatLength: osufile.ClampBeatLength(beat)})
			}
		case "HitObjects":
			n, err := parseNote(line)
			if err != nil {
				return &osufile.ParseError{Line: lineNo, Section: section, Msg: err.Error()}
			}
			p.Notes = append(p.Notes, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(p.Notes, func(i, j int) bool { return p.Notes[i].Time < p.Notes[j].Time })
	sort.SliceStable(p.tempo, func(i, j int) bool { return p.tempo[i].time < p.tempo[j].time })
	return p, nil
}

var (
	errTooFewFields = errors.New("too few fields")
	errBadNumber    = errors.New("invalid number")
)

func parseNote(line string) (Note, error) {
	fields := strings.SplitN(line, ",", 5)
	if len(fields) < 4 {
		return Note{}, errTooFewFields
	}
	x, errX := osufile.ParseFloat(fields[0], osufile.MaxCoordinate)
	y, errY := osufile.ParseFloat(fields[1], osufile.MaxCoordinate)
	t, errT := osufile.ParseFloat(fields[2], osufile.MaxValue)
	typ, errType := strconv.Atoi(fields[3])
	if errX != nil || errY != nil || errT != nil || errType != nil {
		return Note{}, errBadNumber
	}

	n := Note{Time: t, X: x, Y: y}
	switch {
	case typ&1 != 0:
		n.Kind = NoteCircle
	case typ&2 != 0:
		n.Kind = NoteSlider
	case typ&8 != 0, typ&128 != 0:
		n.Kind = NoteSpinner
	default:
		return Note{}, fmt.Errorf("unknown hit object type %s", fields[3])
	}
	return n, nil
}

// Clone returns a deep copy so analyzers can mutate their own view.
func (p *Pattern) Clone() *Pattern {
	c := *p
	c.Notes = append([]Note(nil), p.Notes...)
	c.tempo = append([]redLine(nil), p.tempo...)
	return &c
}

// beatLengthAt returns the red-line beat length in effect at t.
func (p *Pattern) beatLengthAt(t float64) float64 {
	if len(p.tempo) == 0 {
		return 500
	}
	beat := p.tempo[0].beatLength
	for _, r := range p.tempo {
		if r.time > t {
			break
		}
		beat = r.beatLength
	}
	return beat
}

// radius is the hit circle radius in osu!pixels.
func (p *Pattern) radius() float64 {
	return math.Max(54.4-4.48*p.CircleSize, 1)
}

// snapTolerance absorbs rounding in mapped object times.
const snapTolerance = 1.15

// withinDivisor reports whether gap is no longer than beat/divisor.
func withinDivisor(gap, beat float64, divisor int) bool {
	return gap > 0 && gap <= beat/float64(divisor)*snapTolerance+2
}
