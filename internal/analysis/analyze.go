package analysis

// Analysis type tags.
const (
	TypeStream = "stream"
	TypeJump   = "jump"
)

// Result is one tagged analyzer output.
type Result struct {
	Type     string `json:"analysis_type"`
	Analysis any    `json:"analysis"`
}

// Analyze parses doc and runs the analyzers selected by mode. ModeAll
// returns the jump result followed by the stream result; each analyzer works
// on its own copy of the pattern.
func Analyze(doc string, mode Mode) ([]Result, error) {
	p, err := Parse(doc)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeStream:
		return []Result{{Type: TypeStream, Analysis: NewStream(p).Analyze()}}, nil
	case ModeJump:
		return []Result{{Type: TypeJump, Analysis: NewJump(p).Analyze()}}, nil
	case ModeAll:
		stream := NewStream(p.Clone()).Analyze()
		jump := NewJump(p).Analyze()
		return []Result{
			{Type: TypeJump, Analysis: jump},
			{Type: TypeStream, Analysis: stream},
		}, nil
	default:
		return nil, &ModeError{Value: mode.String()}
	}
}
