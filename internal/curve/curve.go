// Package curve provides the pure interpolation evaluators used to shape
// parameter values before transmission. Evaluators hold no state and do
// no I/O.
package curve

import "fmt"

// DomainError reports an input outside the evaluator's [0,1] domain.
type DomainError struct {
	T float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("curve: input %v outside [0,1]", e.T)
}

// Evaluator maps t in [0,1] to a shaped value in [0,1].
type Evaluator func(t float64) (float64, error)

// Linear is the identity curve.
func Linear(t float64) (float64, error) {
	if t < 0 || t > 1 {
		return 0, &DomainError{T: t}
	}
	return t, nil
}

// SmoothStep is the cubic Hermite ease-in/ease-out curve.
func SmoothStep(t float64) (float64, error) {
	if t < 0 || t > 1 {
		return 0, &DomainError{T: t}
	}
	return t * t * (3 - 2*t), nil
}

// Clamped wraps an evaluator so out-of-range inputs are clamped into the
// domain instead of failing. Useful for noisy tracker input.
func Clamped(inner Evaluator) Evaluator {
	return func(t float64) (float64, error) {
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		return inner(t)
	}
}

// ByName resolves an evaluator from a settings value. Unknown names fall
// back to Linear.
func ByName(name string) Evaluator {
	switch name {
	case "smoothstep":
		return SmoothStep
	default:
		return Linear
	}
}
