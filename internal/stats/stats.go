// Package stats derives the statistics summary returned by the details
// endpoint from a resolved map document and its catalog metadata.
package stats

import (
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/catalog"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/difficulty"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/osufile"
)

// Statistics are the difficulty parameters of a map.
type Statistics struct {
	StarRating float64
	PP         float64
	BPM        float64
	AR         float32
	OD         float32
	HP         float32
	CS         float32
}

// Summary is everything the details endpoint reports about one map.
type Summary struct {
	Title      string
	Artist     string
	Creator    string
	Version    string
	SetID      uint32
	Statistics Statistics
}

// Derive parses doc, rates it and combines the result with meta. Text fields
// come from meta; difficulty settings come from the document itself.
// A malformed document yields an *osufile.ParseError.
func Derive(doc string, meta *catalog.Beatmap) (*Summary, error) {
	b, err := osufile.Parse(doc)
	if err != nil {
		return nil, err
	}

	perf := difficulty.Calculate(b).Performance()

	return &Summary{
		Title:   meta.Beatmapset.Title,
		Artist:  meta.Beatmapset.Artist,
		Creator: meta.Beatmapset.Creator,
		Version: meta.Version,
		SetID:   meta.BeatmapsetID,
		Statistics: Statistics{
			StarRating: perf.Stars,
			PP:         perf.PP,
			BPM:        b.BPM(),
			AR:         b.ApproachRate,
			OD:         b.OverallDifficulty,
			HP:         b.HPDrainRate,
			CS:         b.CircleSize,
		},
	}, nil
}
