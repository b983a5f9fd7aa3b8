// Package difficulty computes osu!standard star rating and performance
// points for an unmodded play of a parsed beatmap.
//
// The model is strain based: every object adds aim and speed strain that
// decays exponentially over time; the hardest sections are weighted into a
// skill value per category and combined into a single star rating.
package difficulty

import (
	"math"
	"sort"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/osufile"
)

const (
	strainStep   = 400.0 // ms per strain section
	decayWeight  = 0.9
	starScaling  = 0.0675
	extremeScale = 0.5
	playfieldW   = 512.0

	minDeltaTime = 50.0

	almostDiameter = 90.0
	streamSpacing  = 110.0
	singleSpacing  = 125.0
)

type skill int

const (
	skillSpeed skill = iota
	skillAim
)

var (
	decayBase     = [...]float64{0.3, 0.15}
	weightScaling = [...]float64{1400, 26.25}
)

// Attributes are the difficulty attributes of a map.
type Attributes struct {
	Stars     float64
	Aim       float64
	Speed     float64
	MaxCombo  int
	NCircles  int
	NSliders  int
	NSpinners int
	NObjects  int
	AR        float64
	OD        float64
}

type diffObject struct {
	obj     *osufile.HitObject
	norm    osufile.Point
	strains [2]float64
}

// Calculate computes difficulty attributes for b. Maps of other modes are
// rated as if they were osu!standard maps, with hold notes counted as circles.
func Calculate(b *osufile.Beatmap) *Attributes {
	attrs := &Attributes{
		AR:       float64(b.ApproachRate),
		OD:       float64(b.OverallDifficulty),
		NObjects: len(b.HitObjects),
	}
	for i := range b.HitObjects {
		switch b.HitObjects[i].Kind {
		case osufile.KindCircle, osufile.KindHold:
			attrs.NCircles++
			attrs.MaxCombo++
		case osufile.KindSlider:
			attrs.NSliders++
			attrs.MaxCombo += sliderCombo(b, &b.HitObjects[i])
		case osufile.KindSpinner:
			attrs.NSpinners++
			attrs.MaxCombo++
		}
	}
	if len(b.HitObjects) == 0 {
		return attrs
	}

	scale := circleScaling(float64(b.CircleSize))
	objs := make([]diffObject, len(b.HitObjects))
	for i := range b.HitObjects {
		h := &b.HitObjects[i]
		objs[i] = diffObject{
			obj:  h,
			norm: osufile.Point{X: h.Pos.X * scale, Y: h.Pos.Y * scale},
		}
	}

	for i := 1; i < len(objs); i++ {
		for _, s := range []skill{skillSpeed, skillAim} {
			objs[i].strains[s] = strainOf(&objs[i], &objs[i-1], s, scale)
		}
	}

	speed := skillValue(objs, skillSpeed)
	aim := skillValue(objs, skillAim)

	attrs.Speed = math.Sqrt(speed) * starScaling
	attrs.Aim = math.Sqrt(aim) * starScaling
	attrs.Stars = attrs.Aim + attrs.Speed + math.Abs(attrs.Speed-attrs.Aim)*extremeScale
	return attrs
}

// circleScaling returns the factor that normalises positions so that a
// circle has a radius of 52 playfield units.
func circleScaling(cs float64) float64 {
	radius := (playfieldW / 16) * (1 - 0.7*(cs-5)/5)
	scale := 52 / radius
	if radius < 30 {
		scale *= 1 + math.Min(30-radius, 5)/50
	}
	return scale
}

func strainOf(cur, prev *diffObject, s skill, scale float64) float64 {
	delta := cur.obj.Time - prev.obj.Time
	decay := math.Pow(decayBase[s], delta/1000)

	var value float64
	if cur.obj.Kind != osufile.KindSpinner {
		from := prev.obj.EndPos()
		from = osufile.Point{X: from.X * scale, Y: from.Y * scale}
		dist := cur.norm.Dist(from)
		value = spacingWeight(dist, s) * weightScaling[s]
	}
	value /= math.Max(delta, minDeltaTime)

	return prev.strains[s]*decay + value
}

func spacingWeight(dist float64, s skill) float64 {
	if s == skillAim {
		return math.Pow(dist, 0.99)
	}
	switch {
	case dist > singleSpacing:
		return 2.5
	case dist > streamSpacing:
		return 1.6 + 0.9*(dist-streamSpacing)/(singleSpacing-streamSpacing)
	case dist > almostDiameter:
		return 1.2 + 0.4*(dist-almostDiameter)/(streamSpacing-almostDiameter)
	case dist > almostDiameter/2:
		return 0.95 + 0.25*(dist-almostDiameter/2)/(almostDiameter/2)
	default:
		return 0.95
	}
}

// skillValue takes the peak strain of every section and sums them in
// descending order with geometrically decreasing weight.
func skillValue(objs []diffObject, s skill) float64 {
	var peaks []float64
	intervalEnd := strainStep
	maxStrain := 0.0

	for i := range objs {
		cur := &objs[i]
		for cur.obj.Time > intervalEnd {
			peaks = append(peaks, maxStrain)
			if i > 0 {
				prev := &objs[i-1]
				decay := math.Pow(decayBase[s], (intervalEnd-prev.obj.Time)/1000)
				maxStrain = prev.strains[s] * decay
			} else {
				maxStrain = 0
			}
			intervalEnd += strainStep
		}
		maxStrain = math.Max(maxStrain, cur.strains[s])
	}
	peaks = append(peaks, maxStrain)

	sort.Sort(sort.Reverse(sort.Float64Slice(peaks)))
	total, weight := 0.0, 1.0
	for _, p := range peaks {
		total += p * weight
		weight *= decayWeight
	}
	return total
}

// sliderCombo counts head, ticks, repeats and tail of a slider.
func sliderCombo(b *osufile.Beatmap, h *osufile.HitObject) int {
	beatLength, velocity := b.BeatLengthAt(h.Time)
	pxPerBeat := b.SliderMultiplier * 100 * velocity
	if pxPerBeat <= 0 || b.SliderTickRate <= 0 || beatLength <= 0 {
		return 1 + h.Slides
	}
	tickDist := pxPerBeat / b.SliderTickRate
	ticks := int(math.Ceil((h.Length-tickDist/8)/tickDist)) - 1
	if ticks < 0 {
		ticks = 0
	}
	return 1 + h.Slides + ticks*h.Slides
}
