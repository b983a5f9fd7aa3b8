package analysis

// Stream length classes, in notes.
const (
	minStreamNotes    = 5
	maxShortStream    = 8
	maxMediumStream   = 16
	streamDivisor     = 4 // streams are 1/4 snapped
	longStreamNormLen = 32
)

// StreamAnalysis summarises runs of closely timed notes.
type StreamAnalysis struct {
	OverallConfidence float64 `json:"overall_confidence"`
	ShortStreams      int     `json:"short_streams"`
	MediumStreams     int     `json:"medium_streams"`
	LongStreams       int     `json:"long_streams"`
	MaxStreamLength   int     `json:"max_stream_length"`
	TotalStreams      int     `json:"total_streams"`
	StreamDensity     float64 `json:"stream_density"`
}

// Stream finds streams: at least minStreamNotes notes, each following the
// previous within a quarter beat. A slider may end a stream but not continue
// one. Spinners are ignored.
type Stream struct {
	p *Pattern
}

// NewStream creates a stream analyzer owning p. Analyze modifies p.
func NewStream(p *Pattern) *Stream {
	return &Stream{p: p}
}

// Analyze runs the analysis.
func (s *Stream) Analyze() StreamAnalysis {
	notes := dropSpinners(s.p)

	var res StreamAnalysis
	if len(notes) == 0 {
		return res
	}

	streamNotes := 0
	record := func(n int) {
		if n < minStreamNotes {
			return
		}
		streamNotes += n
		res.TotalStreams++
		switch {
		case n <= maxShortStream:
			res.ShortStreams++
		case n <= maxMediumStream:
			res.MediumStreams++
		default:
			res.LongStreams++
		}
		if n > res.MaxStreamLength {
			res.MaxStreamLength = n
		}
	}

	run := 1
	for i := 1; i < len(notes); i++ {
		prev, cur := notes[i-1], notes[i]
		gap := cur.Time - prev.Time
		if prev.Kind == NoteCircle && withinDivisor(gap, s.p.beatLengthAt(prev.Time), streamDivisor) {
			run++
			continue
		}
		record(run)
		run = 1
	}
	record(run)

	res.StreamDensity = float64(streamNotes) / float64(len(notes))
	if res.TotalStreams > 0 {
		res.OverallConfidence = 0.7*clamp01(res.StreamDensity*1.5) +
			0.3*clamp01(float64(res.MaxStreamLength)/longStreamNormLen)
	}
	return res
}

// dropSpinners removes spinners from p in place and returns the remaining notes.
func dropSpinners(p *Pattern) []Note {
	kept := p.Notes[:0]
	for _, n := range p.Notes {
		if n.Kind != NoteSpinner {
			kept = append(kept, n)
		}
	}
	p.Notes = kept
	return kept
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
