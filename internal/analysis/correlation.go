package analysis

import (
	"coexcore/pkg/domain"
	"math"
)

// MinSamples is the fewest shared finite samples Pearson accepts.
const MinSamples = 3

// Pearson returns the correlation of x and y over positions where both are
// finite. ok is false with fewer than MinSamples such positions or when
// either side has zero variance.
func Pearson(x, y []float64) (r float64, ok bool) {
	if len(x) != len(y) {
		return 0, false
	}
	var n, sx, sy, sxx, syy, sxy float64
	for i := range x {
		a, b := x[i], y[i]
		if math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
			continue
		}
		n++
		sx += a
		sy += b
		sxx += a * a
		syy += b * b
		sxy += a * b
	}
	if n < MinSamples {
		return 0, false
	}
	cov := sxy - sx*sy/n
	vx := sxx - sx*sx/n
	vy := syy - sy*sy/n
	if vx <= 0 || vy <= 0 {
		return 0, false
	}
	r = cov / math.Sqrt(vx*vy)
	return max(-1, min(1, r)), true
}

// Score is one pairwise statistic produced by a run.
type Score struct {
	A, B  domain.GeneID
	Value float64
}

// PairScores correlates every pair of rows in m and keeps those with
// |r| >= threshold.
func PairScores(m Matrix, threshold float64) []Score {
	var out []Score
	for i := range m.Elements {
		for j := i + 1; j < len(m.Elements); j++ {
			r, ok := Pearson(m.Values[i], m.Values[j])
			if !ok || math.Abs(r) < threshold {
				continue
			}
			out = append(out, Score{A: m.Elements[i], B: m.Elements[j], Value: r})
		}
	}
	return out
}
