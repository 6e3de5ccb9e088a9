package tensor

import "errors"

// Canonical errors shared by the grid and nn packages. Call sites wrap them
// with context; match with errors.Is.
var (
	// ErrShapeMismatch covers divisibility failures and block-axis disagreements.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrConfiguration covers unknown option values and non-positive sizes.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrNumericalInstability is reported when a result holds NaN or Inf.
	ErrNumericalInstability = errors.New("numerical instability")
)
