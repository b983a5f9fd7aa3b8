package analysis

const (
	jumpDivisor = 2 // jumps are at most 1/2 snapped
	// Minimum centre distance, in circle radii, for a jump.
	jumpRadii = 3.0
	// Average distance, in circle radii, treated as fully jumpy.
	jumpNormRadii = 12.0
)

// JumpAnalysis summarises large movements between closely timed notes.
type JumpAnalysis struct {
	OverallConfidence   float64 `json:"overall_confidence"`
	TotalJumps          int     `json:"total_jumps"`
	MaxJumpLength       int     `json:"max_jump_length"`
	AverageJumpDistance float64 `json:"average_jump_distance"`
	MaxJumpDistance     float64 `json:"max_jump_distance"`
	JumpDensity         float64 `json:"jump_density"`
}

// Jump finds jumps: consecutive notes at most half a beat apart whose centres
// are at least jumpRadii circle radii apart. Consecutive jumps form a section;
// MaxJumpLength is the note count of the longest section.
type Jump struct {
	p *Pattern
}

// NewJump creates a jump analyzer owning p. Analyze modifies p.
func NewJump(p *Pattern) *Jump {
	return &Jump{p: p}
}

// Analyze runs the analysis.
func (j *Jump) Analyze() JumpAnalysis {
	notes := dropSpinners(j.p)

	var res JumpAnalysis
	if len(notes) < 2 {
		return res
	}

	r := j.p.radius()
	minDist := jumpRadii * r
	total := 0.0
	section := 0

	for i := 1; i < len(notes); i++ {
		prev, cur := notes[i-1], notes[i]
		gap := cur.Time - prev.Time
		d := cur.dist(prev)

		if !withinDivisor(gap, j.p.beatLengthAt(prev.Time), jumpDivisor) || d < minDist {
			section = 0
			continue
		}

		res.TotalJumps++
		total += d
		if d > res.MaxJumpDistance {
			res.MaxJumpDistance = d
		}
		section++
		if section+1 > res.MaxJumpLength {
			res.MaxJumpLength = section + 1
		}
	}

	if res.TotalJumps == 0 {
		return res
	}
	res.AverageJumpDistance = total / float64(res.TotalJumps)
	res.JumpDensity = float64(res.TotalJumps) / float64(len(notes)-1)
	res.OverallConfidence = 0.7*clamp01(res.JumpDensity*1.2) +
		0.3*clamp01(res.AverageJumpDistance/(jumpNormRadii*r))
	return res
}
