package vm

import (
	"math/big"
	"math/bits"
)

// ---------------------------------------------------------------------------
// Number-theoretic transform integrity check
// ---------------------------------------------------------------------------

// The transform runs over GF(nttModulus) with generator nttRoot. The
// modulus is 119*2^23+1, so every power-of-two length up to 2^23 has a
// primitive root of unity.
const (
	nttModulus uint64 = 998244353
	nttRoot    uint64 = 3
)

// nttRoundtrip reduces the chunks to field coefficients, zero-pads to a
// power of two, runs the forward and inverse transforms, and reports
// whether the first len(chunks) outputs equal the inputs. The chunks
// themselves are never touched.
func nttRoundtrip(chunks []*big.Int) bool {
	n := len(chunks)
	if n == 0 {
		return true
	}
	size := 1 << bits.Len(uint(n-1))
	mod := new(big.Int).SetUint64(nttModulus)

	coeffs := make([]uint64, size)
	var r big.Int
	for i, c := range chunks {
		coeffs[i] = r.Mod(c, mod).Uint64()
	}
	orig := append([]uint64(nil), coeffs...)

	transform(coeffs, false)
	transform(coeffs, true)

	for i := 0; i < n; i++ {
		if coeffs[i] != orig[i] {
			return false
		}
	}
	return true
}

// transform is an in-place iterative radix-2 NTT over GF(nttModulus).
// len(a) must be a power of two.
func transform(a []uint64, inverse bool) {
	n := len(a)

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		w := modPow(nttRoot, (nttModulus-1)/uint64(length))
		if inverse {
			w = modPow(w, nttModulus-2)
		}
		for start := 0; start < n; start += length {
			wn := uint64(1)
			for i := 0; i < length/2; i++ {
				u := a[start+i]
				v := modMul(a[start+i+length/2], wn)
				a[start+i] = modAdd(u, v)
				a[start+i+length/2] = modSub(u, v)
				wn = modMul(wn, w)
			}
		}
	}

	if inverse {
		inv := modPow(uint64(n)%nttModulus, nttModulus-2)
		for i := range a {
			a[i] = modMul(a[i], inv)
		}
	}
}

func modAdd(a, b uint64) uint64 {
	s := a + b
	if s >= nttModulus {
		s -= nttModulus
	}
	return s
}

func modSub(a, b uint64) uint64 {
	if a < b {
		return a + nttModulus - b
	}
	return a - b
}

func modMul(a, b uint64) uint64 {
	return a * b % nttModulus
}

func modPow(base, exp uint64) uint64 {
	result := uint64(1)
	base %= nttModulus
	for exp > 0 {
		if exp&1 == 1 {
			result = modMul(result, base)
		}
		base = modMul(base, base)
		exp >>= 1
	}
	return result
}
