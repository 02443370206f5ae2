package analysis

import (
	"coexcore/pkg/domain"
	"context"
	"fmt"
	"math"
)

// Matrix is a dense element-by-sample matrix. Row i belongs to Elements[i].
type Matrix struct {
	Elements []domain.GeneID
	Values   [][]float64
}

// Validate checks that the matrix is rectangular and rows match elements.
func (m Matrix) Validate() error {
	if len(m.Elements) != len(m.Values) {
		return fmt.Errorf("%w: %d elements but %d rows", domain.ErrInvalidArgument, len(m.Elements), len(m.Values))
	}
	for i, row := range m.Values {
		if len(row) != m.Samples() {
			return fmt.Errorf("%w: row %s has %d samples, want %d", domain.ErrInvalidArgument, m.Elements[i], len(row), m.Samples())
		}
	}
	return nil
}

// Samples returns the column count.
func (m Matrix) Samples() int {
	if len(m.Values) == 0 {
		return 0
	}
	return len(m.Values[0])
}

// sameShape validates both matrices and requires equal elements and samples.
func sameShape(a, b Matrix) error {
	for _, m := range []Matrix{a, b} {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	if len(a.Elements) != len(b.Elements) || a.Samples() != b.Samples() {
		return fmt.Errorf("%w: channel shapes differ", domain.ErrInvalidArgument)
	}
	for i := range a.Elements {
		if a.Elements[i] != b.Elements[i] {
			return fmt.Errorf("%w: channel element %d is %s, want %s", domain.ErrInvalidArgument, i, b.Elements[i], a.Elements[i])
		}
	}
	return nil
}

// Normalizer turns raw two-channel signal into one normalized matrix. The
// algorithm is supplied by the caller.
type Normalizer interface {
	// Normalize uses background subtraction and per-point weights. Weights may
	// be a zero Matrix when unavailable.
	Normalize(ctx context.Context, sigA, sigB, bgA, bgB, weights Matrix) (Matrix, error)
	// NormalizeSignals ignores background and weights.
	NormalizeSignals(ctx context.Context, sigA, sigB Matrix) (Matrix, error)
}

// LogRatioNormalizer computes log2(A/B) per point after optional background
// subtraction. Points that end up non-positive become NaN. It does not use
// weights.
type LogRatioNormalizer struct{}

// Normalize implements Normalizer.
func (LogRatioNormalizer) Normalize(ctx context.Context, sigA, sigB, bgA, bgB, _ Matrix) (Matrix, error) {
	for _, m := range []Matrix{sigB, bgA, bgB} {
		if err := sameShape(sigA, m); err != nil {
			return Matrix{}, err
		}
	}
	return logRatio(ctx, sigA, sigB, bgA.Values, bgB.Values)
}

// NormalizeSignals implements Normalizer.
func (LogRatioNormalizer) NormalizeSignals(ctx context.Context, sigA, sigB Matrix) (Matrix, error) {
	if err := sameShape(sigA, sigB); err != nil {
		return Matrix{}, err
	}
	return logRatio(ctx, sigA, sigB, nil, nil)
}

func logRatio(ctx context.Context, a, b Matrix, bgA, bgB [][]float64) (Matrix, error) {
	out := Matrix{Elements: append([]domain.GeneID(nil), a.Elements...), Values: make([][]float64, len(a.Values))}
	for i := range a.Values {
		if err := ctx.Err(); err != nil {
			return Matrix{}, err
		}
		row := make([]float64, len(a.Values[i]))
		for j := range row {
			x, y := a.Values[i][j], b.Values[i][j]
			if bgA != nil {
				x -= bgA[i][j]
				y -= bgB[i][j]
			}
			if x <= 0 || y <= 0 {
				row[j] = math.NaN()
				continue
			}
			row[j] = math.Log2(x / y)
		}
		out.Values[i] = row
	}
	return out, nil
}
