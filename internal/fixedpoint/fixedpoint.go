// Package fixedpoint implements deterministic scaled-integer arithmetic.
//
// Two representations are used across the engine:
//
//   - 1e18-unit values (*big.Int) for the transcendental operations
//     (sqrt, pow, ln, exp) where precision bounds matter, and
//   - int64 values with per-quantity scales (price 1e6, leverage 1e2,
//     ratios in basis points) for money math, combined through MulDiv
//     with an explicit rounding mode.
//
// Out-of-domain input returns a typed error; no operation panics on
// in-domain input.
package fixedpoint

import (
	"errors"
	"math/big"
	"sync"
)

// Unit is the 1e18 fixed-point scale: 1.0 == Unit.
var Unit = big.NewInt(1_000_000_000_000_000_000)

// ln(2) at 1e18 scale.
var ln2 = big.NewInt(693_147_180_559_945_309)

// maxExpInput bounds Exp's argument to keep iteration counts sane.
// exp(130) is far beyond any rate or ratio this engine produces.
var maxExpInput = new(big.Int).Mul(big.NewInt(130), Unit)

var (
	ErrDivideByZero  = errors.New("fixedpoint: divide by zero")
	ErrInvalidInput  = errors.New("fixedpoint: input outside function domain")
	ErrOverflow      = errors.New("fixedpoint: result exceeds supported domain")
	ErrPrecisionLoss = errors.New("fixedpoint: precision loss exceeds tolerance")
)

// RoundingMode selects how MulDiv resolves a non-zero remainder.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding (default for money)
	RoundDown
	RoundUp
)

var bigPool = &sync.Pool{
	New: func() interface{} { return new(big.Int) },
}

func getBig() *big.Int  { return bigPool.Get().(*big.Int) }
func putBig(v *big.Int) { v.SetInt64(0); bigPool.Put(v) }

// Mul returns floor(a*b/Unit).
func Mul(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Div(p, Unit)
}

// MulUp returns ceil(a*b/Unit).
func MulUp(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	q, r := new(big.Int).DivMod(p, Unit, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Div returns floor(a*Unit/b). Fails with ErrDivideByZero when b == 0.
func Div(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	p := new(big.Int).Mul(a, Unit)
	return p.Div(p, b), nil
}

// Sqrt returns the fixed-point square root: Sqrt(Unit) == Unit,
// Sqrt(4*Unit) == 2*Unit. Negative input fails with ErrInvalidInput.
func Sqrt(x *big.Int) (*big.Int, error) {
	if x.Sign() < 0 {
		return nil, ErrInvalidInput
	}
	if x.Sign() == 0 {
		return new(big.Int), nil
	}
	// sqrt(x/U)*U == isqrt(x*U)
	p := new(big.Int).Mul(x, Unit)
	return p.Sqrt(p), nil
}

// Ln returns the natural logarithm at 1e18 scale. Fails with
// ErrInvalidInput when x <= 0. Ln(Unit) == 0 exactly.
//
// The argument is range-reduced to [1, 2) by powers of two, then the
// atanh series ln(y) = 2*(z + z^3/3 + z^5/5 + ...) with z = (y-1)/(y+1)
// is summed until terms vanish. With z <= 1/3 the series converges well
// within the documented 0.01% bound.
func Ln(x *big.Int) (*big.Int, error) {
	if x.Sign() <= 0 {
		return nil, ErrInvalidInput
	}

	y := new(big.Int).Set(x)
	k := int64(0)
	two := big.NewInt(2)

	for y.Cmp(Unit) < 0 {
		y.Mul(y, two)
		k--
	}
	twoUnit := new(big.Int).Mul(Unit, two)
	for y.Cmp(twoUnit) >= 0 {
		y.Div(y, two)
		k++
	}

	// z = (y - 1) / (y + 1), both at unit scale
	num := new(big.Int).Sub(y, Unit)
	den := new(big.Int).Add(y, Unit)
	z, err := Div(num, den)
	if err != nil {
		return nil, err
	}

	z2 := Mul(z, z)
	term := new(big.Int).Set(z)
	sum := new(big.Int).Set(z)
	for n := int64(3); n < 60; n += 2 {
		term = Mul(term, z2)
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, new(big.Int).Div(term, big.NewInt(n)))
	}
	sum.Mul(sum, two)

	kPart := new(big.Int).Mul(big.NewInt(k), ln2)
	return sum.Add(sum, kPart), nil
}

// Exp returns e^x at 1e18 scale for |x| <= 130*Unit; larger magnitudes
// fail with ErrOverflow rather than silently saturating.
func Exp(x *big.Int) (*big.Int, error) {
	if new(big.Int).Abs(x).Cmp(maxExpInput) > 0 {
		return nil, ErrOverflow
	}
	if x.Sign() == 0 {
		return new(big.Int).Set(Unit), nil
	}
	if x.Sign() < 0 {
		pos, err := Exp(new(big.Int).Neg(x))
		if err != nil {
			return nil, err
		}
		return Div(Unit, pos)
	}

	// Range-reduce: x = k*ln2 + r with r in [0, ln2), so e^x = 2^k * e^r.
	k := new(big.Int).Div(x, ln2)
	r := new(big.Int).Sub(x, new(big.Int).Mul(k, ln2))

	// Taylor series for e^r.
	term := new(big.Int).Set(Unit)
	sum := new(big.Int).Set(Unit)
	for n := int64(1); n < 40; n++ {
		term = Mul(term, r)
		term.Div(term, big.NewInt(n))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	return sum.Lsh(sum, uint(k.Int64())), nil
}

// Pow returns base^exp at 1e18 scale. Whole-number exponents take an
// exact square-and-multiply path; fractional exponents go through
// exp(exp * ln(base)) and inherit its error bound. base == 0 with
// exp > 0 yields 0; 0^0 yields Unit. Negative exponents and negative
// bases are out of domain.
func Pow(base, exp *big.Int) (*big.Int, error) {
	if base.Sign() < 0 || exp.Sign() < 0 {
		return nil, ErrInvalidInput
	}
	if exp.Sign() == 0 {
		return new(big.Int).Set(Unit), nil
	}
	if base.Sign() == 0 {
		return new(big.Int), nil
	}

	if new(big.Int).Mod(exp, Unit).Sign() == 0 {
		n := new(big.Int).Div(exp, Unit)
		if !n.IsInt64() || n.Int64() > 1<<20 {
			return nil, ErrOverflow
		}
		return powInt(base, n.Int64()), nil
	}

	lnBase, err := Ln(base)
	if err != nil {
		return nil, err
	}
	e := new(big.Int).Mul(exp, lnBase)
	e.Div(e, Unit)
	return Exp(e)
}

func powInt(base *big.Int, n int64) *big.Int {
	result := new(big.Int).Set(Unit)
	b := new(big.Int).Set(base)
	for n > 0 {
		if n&1 == 1 {
			result = Mul(result, b)
		}
		b = Mul(b, b)
		n >>= 1
	}
	return result
}

// CheckPrecision fails with ErrPrecisionLoss when |got-want| relative to
// want exceeds toleranceBps basis points. A zero want requires an exact
// match.
func CheckPrecision(want, got *big.Int, toleranceBps int64) error {
	diff := new(big.Int).Sub(got, want)
	diff.Abs(diff)
	if want.Sign() == 0 {
		if diff.Sign() != 0 {
			return ErrPrecisionLoss
		}
		return nil
	}
	lhs := new(big.Int).Mul(diff, big.NewInt(10_000))
	rhs := new(big.Int).Mul(new(big.Int).Abs(want), big.NewInt(toleranceBps))
	if lhs.Cmp(rhs) > 0 {
		return ErrPrecisionLoss
	}
	return nil
}

// MulDiv computes a*b/denom through a big.Int intermediate so the
// product cannot overflow int64, applying the requested rounding.
// denom must be positive.
func MulDiv(a, b, denom int64, mode RoundingMode) int64 {
	if denom <= 0 {
		panic("fixedpoint: MulDiv denominator must be positive")
	}
	p := getBig()
	p.Mul(big.NewInt(a), big.NewInt(b))
	out := divInt64(p, denom, mode)
	putBig(p)
	return out
}

func divInt64(num *big.Int, denom int64, mode RoundingMode) int64 {
	d := big.NewInt(denom)
	q := getBig()
	r := getBig()
	q.DivMod(num, d, r) // Euclidean: 0 <= r < denom, q floors

	result := q.Int64()
	switch mode {
	case RoundDown:
		// floor already applied
	case RoundUp:
		if r.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		half := big.NewInt(denom / 2)
		cmp := r.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denom%2 == 0 && result%2 != 0 {
			result++
		}
	}

	putBig(q)
	putBig(r)
	return result
}
