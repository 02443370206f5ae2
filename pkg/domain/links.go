package domain

import (
	"fmt"
	"math"
)

// LinkKey is a canonical unordered gene pair: A sorts before B, so (x,y) and
// (y,x) produce the same key.
type LinkKey struct {
	A GeneID `json:"a"`
	B GeneID `json:"b"`
}

// NewLinkKey canonicalizes a pair. Self pairs and empty ids are rejected.
func NewLinkKey(a, b GeneID) (LinkKey, error) {
	if a == "" || b == "" {
		return LinkKey{}, fmt.Errorf("%w: empty gene id", ErrInvalidArgument)
	}
	if a == b {
		return LinkKey{}, fmt.Errorf("%w: self link on gene %s", ErrInvalidArgument, a)
	}
	if b < a {
		a, b = b, a
	}
	return LinkKey{A: a, B: b}, nil
}

// Partner returns the other end of the pair when g is one of its genes.
func (k LinkKey) Partner(g GeneID) (GeneID, bool) {
	switch g {
	case k.A:
		return k.B, true
	case k.B:
		return k.A, true
	}
	return "", false
}

func (k LinkKey) String() string { return string(k.A) + "~" + string(k.B) }

// ScoreUnits is a score in fixed point with ScoreScale units per 1.0. Integer
// sums are associative, so the aggregate does not depend on fold order.
type ScoreUnits int64

// ScoreScale is the fixed-point resolution of ScoreUnits.
const ScoreScale = 1_000_000_000

// MaxScoreDelta bounds the magnitude of a single contribution.
const MaxScoreDelta = 1000.0

// ToScoreUnits converts a contribution to fixed point. NaN, infinities and
// magnitudes above MaxScoreDelta are rejected.
func ToScoreUnits(delta float64) (ScoreUnits, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, fmt.Errorf("%w: score %v is not finite", ErrInvalidArgument, delta)
	}
	if math.Abs(delta) > MaxScoreDelta {
		return 0, fmt.Errorf("%w: score %v exceeds %v", ErrInvalidArgument, delta, MaxScoreDelta)
	}
	return ScoreUnits(math.Round(delta * ScoreScale)), nil
}

// Float converts back to a float64.
func (u ScoreUnits) Float() float64 { return float64(u) / ScoreScale }

// CoexpressionLink is the aggregate of every run that contributed to a gene
// pair within one taxon.
type CoexpressionLink struct {
	Key     LinkKey    `json:"key"`
	TaxonID TaxonID    `json:"taxon_id"`
	Support int        `json:"support"`
	Sum     ScoreUnits `json:"sum"`
}

// Score is the support-weighted mean strength.
func (l CoexpressionLink) Score() float64 {
	if l.Support == 0 {
		return 0
	}
	return float64(l.Sum) / ScoreScale / float64(l.Support)
}
