// Package fixedpoint holds the decimal conventions shared by the vault engine.
//
// Debt, vault shares and strategy tokens use InternalPrecision (1e8). Pool
// claims use ClaimPrecision (1e18). Ratios use RatePrecision (1e6) and
// slippage style limits use BasisPoints (1e4). Token amounts crossing the
// engine boundary stay in the token's native decimals.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	InternalDecimals = 8
	ClaimDecimals    = 18
)

var (
	InternalPrecision = big.NewInt(100_000_000)
	ClaimPrecision    = pow10(ClaimDecimals)
	RatePrecision     = big.NewInt(1_000_000)
	BasisPoints       = big.NewInt(10_000)
)

// ErrOutOfRange reports a value that does not fit an unsigned 256-bit word.
var ErrOutOfRange = errors.New("fixedpoint: value out of u256 range")

// ErrDivisionByZero is returned by the checked division helpers.
var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

// Rounding selects the direction applied when a result is not exact.
type Rounding uint8

const (
	// RoundDown is used for anything credited to an account.
	RoundDown Rounding = iota
	// RoundUp is used for anything debited from an account.
	RoundUp
)

var powCache = func() []*big.Int {
	out := make([]*big.Int, 78)
	out[0] = big.NewInt(1)
	ten := big.NewInt(10)
	for i := 1; i < len(out); i++ {
		out[i] = new(big.Int).Mul(out[i-1], ten)
	}
	return out
}()

func pow10(n int) *big.Int {
	if n >= 0 && n < len(powCache) {
		return new(big.Int).Set(powCache[n])
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Pow10 returns 10^n as a fresh big integer.
func Pow10(n uint8) *big.Int { return pow10(int(n)) }

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// Copy returns a copy of x treating nil as zero.
func Copy(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsZero reports whether x is nil or zero.
func IsZero(x *big.Int) bool { return x == nil || x.Sign() == 0 }

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return Copy(a)
	}
	return Copy(b)
}

// Max returns a copy of the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return Copy(a)
	}
	return Copy(b)
}

// SubFloor returns a-b clamped at zero.
func SubFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(Copy(a), Copy(b))
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// MulDiv returns floor(a*b/d). A zero divisor yields zero.
func MulDiv(a, b, d *big.Int) *big.Int {
	return mulDiv(a, b, d, RoundDown)
}

// MulDivUp returns ceil(a*b/d). A zero divisor yields zero.
func MulDivUp(a, b, d *big.Int) *big.Int {
	return mulDiv(a, b, d, RoundUp)
}

// MulDivRounding applies the requested rounding mode.
func MulDivRounding(a, b, d *big.Int, mode Rounding) *big.Int {
	return mulDiv(a, b, d, mode)
}

func mulDiv(a, b, d *big.Int, mode Rounding) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, d, new(big.Int))
	if mode == RoundUp && rem.Sign() != 0 && product.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// CheckedMulDiv behaves like MulDiv but rejects a zero divisor.
func CheckedMulDiv(a, b, d *big.Int, mode Rounding) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return mulDiv(a, b, d, mode), nil
}

// ApplyBps returns amount*bps/1e4 using the given rounding.
func ApplyBps(amount *big.Int, bps uint64, mode Rounding) *big.Int {
	return mulDiv(amount, new(big.Int).SetUint64(bps), BasisPoints, mode)
}

// ApplyRate returns amount*rate/1e6 using the given rounding.
func ApplyRate(amount *big.Int, rate uint64, mode Rounding) *big.Int {
	return mulDiv(amount, new(big.Int).SetUint64(rate), RatePrecision, mode)
}

// LessBps returns amount*(1e4-bps)/1e4 rounded down; bps above 1e4 yields zero.
func LessBps(amount *big.Int, bps uint64) *big.Int {
	if bps >= 10_000 {
		return new(big.Int)
	}
	return ApplyBps(amount, 10_000-bps, RoundDown)
}

// Rescale converts between two decimal precisions.
func Rescale(amount *big.Int, fromDecimals, toDecimals uint8, mode Rounding) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	switch {
	case fromDecimals == toDecimals:
		return new(big.Int).Set(amount)
	case fromDecimals < toDecimals:
		return new(big.Int).Mul(amount, pow10(int(toDecimals-fromDecimals)))
	default:
		return mulDiv(amount, big.NewInt(1), pow10(int(fromDecimals-toDecimals)), mode)
	}
}

// ToInternal converts a native token amount to the 1e8 internal precision,
// rounding toward zero.
func ToInternal(amount *big.Int, decimals uint8) *big.Int {
	return Rescale(amount, decimals, InternalDecimals, RoundDown)
}

// ToExternal converts an internal 1e8 amount into native token decimals.
func ToExternal(amount *big.Int, decimals uint8, mode Rounding) *big.Int {
	return Rescale(amount, InternalDecimals, decimals, mode)
}

// ClaimToInternal converts a 1e18 pool claim to 1e8 strategy tokens.
func ClaimToInternal(claim *big.Int) *big.Int {
	return Rescale(claim, ClaimDecimals, InternalDecimals, RoundDown)
}

// ConvertRat converts amount of a token with fromDecimals into a token with
// toDecimals at rate, where rate is whole "to" tokens per whole "from" token.
func ConvertRat(amount *big.Int, rate *big.Rat, fromDecimals, toDecimals uint8, mode Rounding) *big.Int {
	if amount == nil || rate == nil || rate.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(amount, rate.Num())
	num.Mul(num, pow10(int(toDecimals)))
	den := new(big.Int).Mul(rate.Denom(), pow10(int(fromDecimals)))
	return mulDiv(num, big.NewInt(1), den, mode)
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sqrt(x)
}

// CheckU256 verifies x is non-negative and fits 256 bits.
func CheckU256(x *big.Int) error {
	if x == nil {
		return nil
	}
	if x.Sign() < 0 {
		return ErrOutOfRange
	}
	if _, overflow := uint256.FromBig(x); overflow {
		return ErrOutOfRange
	}
	return nil
}

// DeviationBps returns |a-b|*1e4/b rounded up. A zero b yields the max value.
func DeviationBps(a, b *big.Rat) uint64 {
	if b == nil || b.Sign() == 0 {
		return ^uint64(0)
	}
	if a == nil {
		a = new(big.Rat)
	}
	diff := new(big.Rat).Sub(a, b)
	diff.Abs(diff)
	diff.Quo(diff, new(big.Rat).Abs(b))
	diff.Mul(diff, new(big.Rat).SetInt(BasisPoints))
	out := mulDiv(diff.Num(), big.NewInt(1), diff.Denom(), RoundUp)
	if !out.IsUint64() {
		return ^uint64(0)
	}
	return out.Uint64()
}
