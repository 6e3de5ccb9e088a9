package nn

import (
	"fmt"
	"math"
	"strings"

	"github.com/fusheng-ji/MINER/tensor"
)

// FinalActivation selects the terminal nonlinearity of an ensemble.
type FinalActivation int

const (
	FinalSigmoid FinalActivation = 0 // 1 / (1 + exp(-v)), no parameters
	FinalSine    FinalActivation = 1 // sin(a * v), a learned per block
)

func (f FinalActivation) String() string {
	switch f {
	case FinalSigmoid:
		return "sigmoid"
	case FinalSine:
		return "sin"
	default:
		return fmt.Sprintf("final(%d)", int(f))
	}
}

// ParseFinalActivation accepts "sigmoid", "sin" and "scaled-sine".
func ParseFinalActivation(s string) (FinalActivation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sigmoid":
		return FinalSigmoid, nil
	case "sin", "sine", "scaled-sine", "scaled_sine":
		return FinalSine, nil
	default:
		return 0, fmt.Errorf("%w: unknown final activation %q", tensor.ErrConfiguration, s)
	}
}

func (f FinalActivation) valid() bool { return f == FinalSigmoid || f == FinalSine }

// gaussian is exp(-v²/(2a²)).
func gaussian(v, a float64) float64 {
	return math.Exp(-v * v / (2 * a * a))
}

// gaussianGrad returns d/dv and d/da of y = gaussian(v, a).
func gaussianGrad(v, a, y float64) (dv, da float64) {
	a2 := a * a
	return -y * v / a2, y * v * v / (a2 * a)
}

func sigmoid(v float64) float64 {
	return 1.0 / (1.0 + math.Exp(-v))
}

// scaledSine is sin(a*v).
func scaledSine(v, a float64) float64 {
	return math.Sin(a * v)
}

// applyFinal runs the terminal activation in place over a chunk's
// pre-activations. scale holds the per-block parameter (nil for sigmoid).
func applyFinal(z *tensor.Tensor, final FinalActivation, scale *tensor.Tensor, blocks []int) {
	for j, blk := range blocks {
		row := z.Block(j)
		switch final {
		case FinalSigmoid:
			for i, v := range row {
				row[i] = sigmoid(v)
			}
		case FinalSine:
			a := scale.Data[blk]
			for i, v := range row {
				row[i] = scaledSine(v, a)
			}
		}
	}
}

// finalBackward turns dL/dy into dL/dz in place and accumulates the scale
// gradient. z holds pre-activations, y the activated output.
func finalBackward(gy, z, y *tensor.Tensor, final FinalActivation, scale, gScale *tensor.Tensor, blocks []int) {
	for j, blk := range blocks {
		g := gy.Block(j)
		zr := z.Block(j)
		switch final {
		case FinalSigmoid:
			yr := y.Block(j)
			for i := range g {
				g[i] *= yr[i] * (1 - yr[i])
			}
		case FinalSine:
			a := scale.Data[blk]
			da := 0.0
			for i := range g {
				c := math.Cos(a * zr[i])
				da += g[i] * zr[i] * c
				g[i] *= a * c
			}
			gScale.Data[blk] += da
		}
	}
}
