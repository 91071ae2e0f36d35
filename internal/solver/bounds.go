package solver

import (
	"fmt"
	"math"

	"github.com/andresmejia3/limblift/internal/types"
)

// Bound is a closed interval for one parameter. Use math.Inf for an open side;
// the zero value is not unbounded, so build bounds with Unbounded, AtLeast, AtMost or Between.
type Bound struct {
	Lower float64
	Upper float64
}

// Unbounded places no restriction on the parameter.
func Unbounded() Bound { return Bound{Lower: math.Inf(-1), Upper: math.Inf(1)} }

// AtLeast bounds the parameter from below.
func AtLeast(lo float64) Bound { return Bound{Lower: lo, Upper: math.Inf(1)} }

// AtMost bounds the parameter from above.
func AtMost(hi float64) Bound { return Bound{Lower: math.Inf(-1), Upper: hi} }

// Between bounds the parameter on both sides.
func Between(lo, hi float64) Bound { return Bound{Lower: lo, Upper: hi} }

// Bounds holds an optional box per optimization variable. A nil *Bound is unbounded.
type Bounds struct {
	DepthBase *Bound
	Theta1    *Bound
	Theta2    *Bound
}

func (b Bounds) list() [3]*Bound {
	return [3]*Bound{b.DepthBase, b.Theta1, b.Theta2}
}

// transform maps between the optimizer's unconstrained variables (internal) and
// the bounded kinematic parameters (external). Double-sided bounds use a sine map;
// single-sided bounds use a square-root map.
type transform struct {
	kinds [3]boundKind
	lo    [3]float64
	hi    [3]float64
}

type boundKind int

const (
	free boundKind = iota
	lowerOnly
	upperOnly
	both
)

var paramNames = [3]string{"depth_base", "theta1", "theta2"}

// boundNudge is the relative distance an on-bound start is moved inside its box.
const boundNudge = 1e-4

func newTransform(b Bounds) (*transform, error) {
	t := &transform{}
	for i, bd := range b.list() {
		if bd == nil {
			continue
		}
		lo, hi := bd.Lower, bd.Upper
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 1) || math.IsInf(hi, -1) {
			return nil, fmt.Errorf("%w: %s bound [%v, %v] is not a valid interval", types.ErrInvalidInput, paramNames[i], lo, hi)
		}
		if lo >= hi {
			return nil, fmt.Errorf("%w: %s bound lower %v must be below upper %v", types.ErrInvalidInput, paramNames[i], lo, hi)
		}
		t.lo[i], t.hi[i] = lo, hi
		switch {
		case math.IsInf(lo, -1) && math.IsInf(hi, 1):
			t.kinds[i] = free
		case math.IsInf(hi, 1):
			t.kinds[i] = lowerOnly
		case math.IsInf(lo, -1):
			t.kinds[i] = upperOnly
		default:
			t.kinds[i] = both
		}
	}
	return t, nil
}

// toInternal converts a starting point; it fails when the point lies outside its box.
func (t *transform) toInternal(ext []float64) ([]float64, error) {
	in := make([]float64, len(ext))
	for i, x := range ext {
		lo, hi := t.lo[i], t.hi[i]
		switch t.kinds[i] {
		case free:
			in[i] = x
			continue
		case lowerOnly:
			hi = math.Inf(1)
		case upperOnly:
			lo = math.Inf(-1)
		}
		if x < lo || x > hi {
			return nil, fmt.Errorf("%w: initial %s = %v outside bound [%v, %v]", types.ErrInvalidInput, paramNames[i], x, lo, hi)
		}
		x = t.interior(i, x)
		switch t.kinds[i] {
		case lowerOnly:
			d := x - lo + 1
			in[i] = math.Sqrt(d*d - 1)
		case upperOnly:
			d := hi - x + 1
			in[i] = math.Sqrt(d*d - 1)
		case both:
			in[i] = math.Asin(2*(x-lo)/(hi-lo) - 1)
		}
	}
	return in, nil
}

// interior moves a start sitting exactly on a bound slightly inside the box.
// dx/du vanishes on a bound.
func (t *transform) interior(i int, x float64) float64 {
	lo, hi := t.lo[i], t.hi[i]
	step := boundNudge * math.Max(1, math.Abs(x))
	if t.kinds[i] == both {
		step = math.Min(step, boundNudge*(hi-lo))
	}
	switch {
	case t.kinds[i] != upperOnly && x == lo:
		return lo + step
	case t.kinds[i] != lowerOnly && x == hi:
		return hi - step
	}
	return x
}

// toExternal writes the bounded parameters for internal vector u into dst.
func (t *transform) toExternal(dst, u []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(u))
	}
	for i, v := range u {
		lo, hi := t.lo[i], t.hi[i]
		switch t.kinds[i] {
		case free:
			dst[i] = v
		case lowerOnly:
			dst[i] = lo - 1 + math.Sqrt(v*v+1)
		case upperOnly:
			dst[i] = hi + 1 - math.Sqrt(v*v+1)
		case both:
			dst[i] = lo + (hi-lo)*(math.Sin(v)+1)/2
		}
	}
	return dst
}

// chain scales an external gradient in place by dx/du.
func (t *transform) chain(grad, u []float64) {
	for i, v := range u {
		switch t.kinds[i] {
		case lowerOnly:
			grad[i] *= v / math.Sqrt(v*v+1)
		case upperOnly:
			grad[i] *= -v / math.Sqrt(v*v+1)
		case both:
			grad[i] *= (t.hi[i] - t.lo[i]) * math.Cos(v) / 2
		}
	}
}
