package difficulty

import "math"

// Performance is the result of the performance pass.
type Performance struct {
	Stars    float64
	PP       float64
	Aim      float64
	Speed    float64
	Accuracy float64
}

// Performance evaluates an SS play (full combo, 100% accuracy, no mods) of a
// map with the given attributes.
func (a *Attributes) Performance() *Performance {
	p := &Performance{Stars: a.Stars}
	if a.NObjects == 0 {
		return p
	}

	n := float64(a.NObjects)
	lengthBonus := 0.95 + 0.4*math.Min(1, n/2000)
	if n > 2000 {
		lengthBonus += math.Log10(n/2000) * 0.5
	}
	od := a.OD
	ar := a.AR

	p.Aim = baseStrain(a.Aim) * lengthBonus
	arBonus := 1.0
	switch {
	case ar > 10.33:
		arBonus += 0.3 * (ar - 10.33)
	case ar < 8:
		arBonus += 0.01 * (8 - ar)
	}
	p.Aim *= arBonus
	p.Aim *= 0.98 + od*od/2500

	p.Speed = baseStrain(a.Speed) * lengthBonus
	p.Speed *= 1.02
	p.Speed *= 0.96 + od*od/1600

	if a.NCircles > 0 {
		p.Accuracy = math.Pow(1.52163, od) * 2.83
		p.Accuracy *= math.Min(1.15, math.Pow(float64(a.NCircles)/1000, 0.3))
	}

	p.PP = math.Pow(
		math.Pow(p.Aim, 1.1)+math.Pow(p.Speed, 1.1)+math.Pow(p.Accuracy, 1.1),
		1/1.1) * 1.12
	return p
}

func baseStrain(stars float64) float64 {
	return math.Pow(5*math.Max(1, stars/starScaling)-4, 3) / 100000
}
