package nn

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fusheng-ji/MINER/tensor"
)

// NewSource returns the seeded generator used for parameter initialization.
func NewSource(seed uint64) rand.Source {
	return rand.NewSource(seed)
}

func fillUniform(t *tensor.Tensor, lo, hi float64, src rand.Source) {
	u := distuv.Uniform{Min: lo, Max: hi, Src: src}
	for i := range t.Data {
		t.Data[i] = u.Rand()
	}
}

// fillGamma samples Gamma(alpha, beta) with beta as the rate.
func fillGamma(t *tensor.Tensor, alpha, beta float64, src rand.Source) {
	g := distuv.Gamma{Alpha: alpha, Beta: beta, Src: src}
	for i := range t.Data {
		t.Data[i] = g.Rand()
	}
}
