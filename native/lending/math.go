package lending

import (
	"fmt"
	"math/big"
)

var (
	// wad is the 1e18 fixed-point scale used for token amounts and USD values.
	wad     = mustBigInt("1000000000000000000")
	halfWad = new(big.Int).Rsh(wad, 1)

	// ray is the 1e27 fixed-point scale used for interest rates and accrual
	// indexes. The extra nine digits over wad keep per-second compounding from
	// collapsing to zero.
	ray     = mustBigInt("1000000000000000000000000000")
	halfRay = new(big.Int).Rsh(ray, 1)

	basisPoints     = big.NewInt(10_000)
	halfBasisPoints = big.NewInt(5_000)

	secondsPerYear = big.NewInt(31_536_000)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustBigInt(value string) *big.Int {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic(fmt.Sprintf("lending: invalid big integer constant %q", value))
	}
	return parsed
}

// mulScaled computes a*b/scale rounded half up. The bound is checked before
// the multiply so the rounding term can never leave the 256-bit range.
func mulScaled(a, b, scale, half *big.Int) (*big.Int, error) {
	if a == nil || b == nil || a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrArithmeticOverflow
	}
	limit := new(big.Int).Sub(maxUint256, half)
	limit.Quo(limit, b)
	if a.Cmp(limit) > 0 {
		return nil, ErrArithmeticOverflow
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, half)
	return product.Quo(product, scale), nil
}

// divScaled computes a*scale/b rounded half up, failing on division by zero.
func divScaled(a, b, scale *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrArithmeticOverflow
	}
	if a == nil || a.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrArithmeticOverflow
	}
	halfB := new(big.Int).Rsh(b, 1)
	limit := new(big.Int).Sub(maxUint256, halfB)
	limit.Quo(limit, scale)
	if a.Cmp(limit) > 0 {
		return nil, ErrArithmeticOverflow
	}
	numerator := new(big.Int).Mul(a, scale)
	numerator.Add(numerator, halfB)
	return numerator.Quo(numerator, b), nil
}

func mulWad(a, b *big.Int) (*big.Int, error) { return mulScaled(a, b, wad, halfWad) }

func divWad(a, b *big.Int) (*big.Int, error) { return divScaled(a, b, wad) }

func mulRay(a, b *big.Int) (*big.Int, error) { return mulScaled(a, b, ray, halfRay) }

func divRay(a, b *big.Int) (*big.Int, error) { return divScaled(a, b, ray) }

// percentOf applies a basis-point factor to the amount, rounding half up.
func percentOf(amount *big.Int, bps uint64) (*big.Int, error) {
	return mulScaled(amount, new(big.Int).SetUint64(bps), basisPoints, halfBasisPoints)
}

// bpsToRay converts a basis-point quantity to ray precision.
func bpsToRay(bps uint64) *big.Int {
	value := new(big.Int).SetUint64(bps)
	value.Mul(value, ray)
	return value.Quo(value, basisPoints)
}

// rayPow raises a ray-scaled base to an integer exponent by squaring, in
// O(log n) ray multiplications.
func rayPow(base *big.Int, exp uint64) (*big.Int, error) {
	result := new(big.Int).Set(ray)
	if exp == 0 {
		return result, nil
	}
	if base == nil || base.Sign() < 0 {
		return nil, ErrArithmeticOverflow
	}
	square := new(big.Int).Set(base)
	for {
		if exp&1 == 1 {
			var err error
			if result, err = mulRay(result, square); err != nil {
				return nil, err
			}
		}
		exp >>= 1
		if exp == 0 {
			return result, nil
		}
		var err error
		if square, err = mulRay(square, square); err != nil {
			return nil, err
		}
	}
}

// compoundFactor returns (1 + annualRate/secondsPerYear)^seconds in ray
// precision, the per-second compounded growth over the elapsed window.
func compoundFactor(annualRateRay *big.Int, seconds uint64) (*big.Int, error) {
	if annualRateRay == nil || annualRateRay.Sign() <= 0 || seconds == 0 {
		return new(big.Int).Set(ray), nil
	}
	perSecond := new(big.Int).Quo(annualRateRay, secondsPerYear)
	return rayPow(new(big.Int).Add(ray, perSecond), seconds)
}

// scaledFromAmount converts an underlying amount into scaled claim units at
// the given ray index.
func scaledFromAmount(amount, index *big.Int) (*big.Int, error) {
	return divRay(amount, index)
}

// amountFromScaled converts scaled claim units back into underlying at the
// given ray index.
func amountFromScaled(scaled, index *big.Int) (*big.Int, error) {
	return mulRay(scaled, index)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
