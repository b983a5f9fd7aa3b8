package osufile

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Game modes.
const (
	ModeStandard = 0
	ModeTaiko    = 1
	ModeCatch    = 2
	ModeMania    = 3
)

// Hit object type bits.
const (
	typeCircle   = 1 << 0
	typeSlider   = 1 << 1
	typeNewCombo = 1 << 2
	typeSpinner  = 1 << 3
	typeHold     = 1 << 7
)

// maxSlides bounds a slider's repeat count.
const maxSlides = 9000

// Kind is the kind of a hit object.
type Kind int

const (
	KindCircle Kind = iota
	KindSlider
	KindSpinner
	KindHold
)

// Point is a playfield position in osu!pixels (512x384).
type Point struct {
	X, Y float64
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// TimingPoint is one [TimingPoints] record.
type TimingPoint struct {
	Time        float64
	BeatLength  float64 // ms per beat when Uninherited, else -100/SV
	Meter       int
	Uninherited bool
}

// HitObject is one [HitObjects] record.
type HitObject struct {
	Pos      Point
	Time     float64
	EndTime  float64 // equals Time for circles
	Kind     Kind
	NewCombo bool

	// Slider fields.
	CurveType   byte
	CurvePoints []Point
	Slides      int
	Length      float64
}

// EndPos approximates where the object ends: the last control point of a
// slider with an odd number of slides, otherwise the start position.
func (h *HitObject) EndPos() Point {
	if h.Kind == KindSlider && h.Slides%2 == 1 && len(h.CurvePoints) > 0 {
		return h.CurvePoints[len(h.CurvePoints)-1]
	}
	return h.Pos
}

// Beatmap is a parsed .osu document.
type Beatmap struct {
	FormatVersion int
	Mode          int
	StackLeniency float64

	Title        string
	Artist       string
	Creator      string
	Version      string
	BeatmapID    int
	BeatmapSetID int

	HPDrainRate       float32
	CircleSize        float32
	OverallDifficulty float32
	ApproachRate      float32
	SliderMultiplier  float64
	SliderTickRate    float64

	TimingPoints []TimingPoint
	HitObjects   []HitObject
}

// BeatLengthAt returns the uninherited beat length in effect at time t and the
// slider velocity multiplier from any inherited point after it.
func (b *Beatmap) BeatLengthAt(t float64) (beatLength, velocity float64) {
	beatLength, velocity = 500, 1 // 120 BPM when a map has no timing
	seen := false
	for _, tp := range b.TimingPoints {
		if tp.Time > t {
			// Objects before the first red line use its tempo.
			if !seen && tp.Uninherited {
				beatLength = tp.BeatLength
				seen = true
			}
			if seen {
				break
			}
			continue
		}
		if tp.Uninherited {
			beatLength = tp.BeatLength
			velocity = 1
			seen = true
		} else if tp.BeatLength < 0 {
			velocity = clamp(-100/tp.BeatLength, 0.1, 10)
		}
	}
	return beatLength, velocity
}

// BPM returns the map's dominant BPM: the tempo held for the longest span
// between the first and last hit object. Maps without timing report 0.
func (b *Beatmap) BPM() float64 {
	var red []TimingPoint
	for _, tp := range b.TimingPoints {
		if tp.Uninherited && tp.BeatLength > 0 {
			red = append(red, tp)
		}
	}
	if len(red) == 0 {
		return 0
	}

	lastTime := red[len(red)-1].Time
	if n := len(b.HitObjects); n > 0 {
		lastTime = math.Max(lastTime, b.HitObjects[n-1].EndTime)
	}

	durations := make(map[float64]float64)
	for i, tp := range red {
		if tp.Time > lastTime {
			break
		}
		end := lastTime
		if i+1 < len(red) {
			end = red[i+1].Time
		}
		start := tp.Time
		if i == 0 {
			start = 0
		}
		durations[tp.BeatLength] += end - start
	}

	best, bestDur := red[0].BeatLength, -1.0
	keys := make([]float64, 0, len(durations))
	for k := range durations {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	for _, k := range keys {
		if durations[k] > bestDur {
			best, bestDur = k, durations[k]
		}
	}
	return 60000 / best
}

// Parse parses a .osu document.
func Parse(doc string) (*Beatmap, error) {
	b := &Beatmap{
		StackLeniency:     0.7,
		HPDrainRate:       5,
		CircleSize:        5,
		OverallDifficulty: 5,
		ApproachRate:      -1,
		SliderMultiplier:  1.4,
		SliderTickRate:    1,
	}

	version, err := Scan(doc, func(section, line string, lineNo int) error {
		switch section {
		case "General":
			return b.parseGeneral(line, lineNo)
		case "Metadata":
			b.parseMetadata(line)
		case "Difficulty":
			return b.parseDifficulty(line, lineNo)
		case "TimingPoints":
			tp, err := ParseTimingPoint(line, lineNo)
			if err != nil {
				return err
			}
			b.TimingPoints = append(b.TimingPoints, tp)
		case "HitObjects":
			ho, err := ParseHitObject(line, lineNo)
			if err != nil {
				return err
			}
			b.HitObjects = append(b.HitObjects, ho)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.FormatVersion = version

	// Old formats have no ApproachRate; it followed OverallDifficulty.
	if b.ApproachRate < 0 {
		b.ApproachRate = b.OverallDifficulty
	}

	sort.SliceStable(b.TimingPoints, func(i, j int) bool {
		return b.TimingPoints[i].Time < b.TimingPoints[j].Time
	})
	sort.SliceStable(b.HitObjects, func(i, j int) bool {
		return b.HitObjects[i].Time < b.HitObjects[j].Time
	})
	b.computeSliderEnds()

	return b, nil
}

func (b *Beatmap) parseGeneral(line string, lineNo int) error {
	key, value, ok := SplitKeyValue(line)
	if !ok {
		return nil
	}
	switch key {
	case "Mode":
		mode, err := strconv.Atoi(value)
		if err != nil || mode < ModeStandard || mode > ModeMania {
			return &ParseError{Line: lineNo, Section: "General", Msg: "invalid Mode " + strconv.Quote(value)}
		}
		b.Mode = mode
	case "StackLeniency":
		if v, err := ParseFloat(value, 1); err == nil {
			b.StackLeniency = v
		}
	}
	return nil
}

func (b *Beatmap) parseMetadata(line string) {
	key, value, ok := SplitKeyValue(line)
	if !ok {
		return
	}
	switch key {
	case "Title":
		b.Title = value
	case "Artist":
		b.Artist = value
	case "Creator":
		b.Creator = value
	case "Version":
		b.Version = value
	case "BeatmapID":
		b.BeatmapID, _ = strconv.Atoi(value)
	case "BeatmapSetID":
		b.BeatmapSetID, _ = strconv.Atoi(value)
	}
}

func (b *Beatmap) parseDifficulty(line string, lineNo int) error {
	key, value, ok := SplitKeyValue(line)
	if !ok {
		return nil
	}
	v, err := ParseFloat(value, MaxValue)
	if err != nil {
		return &ParseError{Line: lineNo, Section: "Difficulty", Msg: "invalid " + key + " " + strconv.Quote(value)}
	}
	// Settings are clamped to the ranges the game accepts.
	switch key {
	case "HPDrainRate":
		b.HPDrainRate = float32(clamp(v, 0, 10))
	case "CircleSize":
		b.CircleSize = float32(clamp(v, 0, 10))
	case "OverallDifficulty":
		b.OverallDifficulty = float32(clamp(v, 0, 10))
	case "ApproachRate":
		b.ApproachRate = float32(clamp(v, 0, 10))
	case "SliderMultiplier":
		b.SliderMultiplier = clamp(v, 0.4, 3.6)
	case "SliderTickRate":
		b.SliderTickRate = clamp(v, 0.5, 8)
	}
	return nil
}

// ParseTimingPoint parses one [TimingPoints] record.
func ParseTimingPoint(line string, lineNo int) (TimingPoint, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return TimingPoint{}, &ParseError{Line: lineNo, Section: "TimingPoints", Msg: "too few fields"}
	}
	t, err1 := ParseFloat(fields[0], MaxValue)
	beat, err2 := ParseFloat(fields[1], MaxValue)
	if err1 != nil || err2 != nil {
		return TimingPoint{}, &ParseError{Line: lineNo, Section: "TimingPoints", Msg: "invalid number"}
	}

	tp := TimingPoint{Time: t, BeatLength: beat, Meter: 4, Uninherited: beat > 0}
	if len(fields) > 2 {
		if m, err := strconv.Atoi(strings.TrimSpace(fields[2])); err == nil && m > 0 {
			tp.Meter = m
		}
	}
	if len(fields) > 6 {
		tp.Uninherited = strings.TrimSpace(fields[6]) == "1"
	}
	if tp.Uninherited {
		tp.BeatLength = ClampBeatLength(beat)
	}
	return tp, nil
}

// ClampBeatLength bounds a red line's beat length to 1..10000 BPM.
func ClampBeatLength(ms float64) float64 {
	return clamp(ms, 6, 60000)
}

// ParseHitObject parses one [HitObjects] record. Slider end times are filled
// in by Parse once timing is known.
func ParseHitObject(line string, lineNo int) (HitObject, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return HitObject{}, &ParseError{Line: lineNo, Section: "HitObjects", Msg: "too few fields"}
	}

	x, errX := ParseFloat(fields[0], MaxCoordinate)
	y, errY := ParseFloat(fields[1], MaxCoordinate)
	t, errT := ParseFloat(fields[2], MaxValue)
	typ, errType := strconv.Atoi(fields[3])
	if errX != nil || errY != nil || errT != nil || errType != nil {
		return HitObject{}, &ParseError{Line: lineNo, Section: "HitObjects", Msg: "invalid number"}
	}

	h := HitObject{
		Pos:      Point{X: x, Y: y},
		Time:     t,
		EndTime:  t,
		NewCombo: typ&typeNewCombo != 0,
	}

	bad := func(msg string) (HitObject, error) {
		return HitObject{}, &ParseError{Line: lineNo, Section: "HitObjects", Msg: msg}
	}

	switch {
	case typ&typeCircle != 0:
		h.Kind = KindCircle
	case typ&typeSlider != 0:
		h.Kind = KindSlider
		if len(fields) < 8 {
			return bad("slider has too few fields")
		}
		curve := strings.Split(fields[5], "|")
		if len(curve[0]) != 1 {
			return bad("invalid slider curve type")
		}
		h.CurveType = curve[0][0]
		for _, p := range curve[1:] {
			xy := strings.SplitN(p, ":", 2)
			if len(xy) != 2 {
				return bad("invalid slider control point")
			}
			px, errPX := ParseFloat(xy[0], MaxCoordinate)
			py, errPY := ParseFloat(xy[1], MaxCoordinate)
			if errPX != nil || errPY != nil {
				return bad("invalid slider control point")
			}
			h.CurvePoints = append(h.CurvePoints, Point{X: px, Y: py})
		}
		slides, err := strconv.Atoi(fields[6])
		if err != nil || slides < 1 || slides > maxSlides {
			return bad("invalid slider slide count")
		}
		h.Slides = slides
		length, err := ParseFloat(fields[7], MaxValue)
		if err != nil || length < 0 {
			return bad("invalid slider length")
		}
		h.Length = length
	case typ&typeSpinner != 0:
		h.Kind = KindSpinner
		if len(fields) < 6 {
			return bad("spinner has no end time")
		}
		end, err := ParseFloat(fields[5], MaxValue)
		if err != nil {
			return bad("invalid spinner end time")
		}
		h.EndTime = math.Max(end, t)
	case typ&typeHold != 0:
		h.Kind = KindHold
		if len(fields) < 6 {
			return bad("hold note has no end time")
		}
		end, err := ParseFloat(strings.SplitN(fields[5], ":", 2)[0], MaxValue)
		if err != nil {
			return bad("invalid hold end time")
		}
		h.EndTime = math.Max(end, t)
	default:
		return bad("unknown hit object type " + fields[3])
	}
	return h, nil
}

func (b *Beatmap) computeSliderEnds() {
	for i := range b.HitObjects {
		h := &b.HitObjects[i]
		if h.Kind != KindSlider {
			continue
		}
		beatLength, velocity := b.BeatLengthAt(h.Time)
		pxPerBeat := b.SliderMultiplier * 100 * velocity
		if pxPerBeat <= 0 {
			continue
		}
		h.EndTime = h.Time + h.Length/pxPerBeat*beatLength*float64(h.Slides)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
