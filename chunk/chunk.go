// Package chunk implements the prime-power instruction encoding. One
// instruction is a single arbitrary-precision integer
//
//	chunk = 2^opcode * 3^|operand| * 5^neg * 7^checksum
//
// where neg is 1 for negative operands and the checksum binds opcode,
// operand magnitude and sign together. Decoding divides by the four slot
// primes only; anything left over means the chunk was corrupted.
package chunk

import (
	"fmt"
	"math/big"

	"github.com/UOR-Foundation/uor-labs/prime"
)

// Slot assignments of the reserved primes in the on-disk chunk format.
const (
	slotOpcode   = 0 // 2
	slotOperand  = 1 // 3
	slotNegFlag  = 2 // 5
	slotChecksum = 3 // 7
)

var (
	one = big.NewInt(1)
)

// ErrCorrupt is returned by Decode for any chunk whose factorization or
// checksum does not match a valid instruction.
type ErrCorrupt struct {
	Reason string
}

func (e *ErrCorrupt) Error() string {
	return "corrupt chunk: " + e.Reason
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode builds the chunk integer for op with the given operand. Arity-0
// opcodes must pass operand nil or zero. A zero operand always encodes with
// NEG_FLAG = 0, so -0 and +0 produce the same chunk.
func Encode(op Op, operand *big.Int) (*big.Int, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("encode: unknown opcode %d", int(op))
	}
	if operand == nil {
		operand = new(big.Int)
	}
	if op.Arity() == 0 && operand.Sign() != 0 {
		return nil, fmt.Errorf("encode: %s takes no operand", op)
	}

	neg := int64(0)
	if operand.Sign() < 0 {
		neg = 1
	}
	var mag big.Int
	mag.Abs(operand)

	c := new(big.Int).Exp(prime.Big(slotOpcode), big.NewInt(int64(op)), nil)
	if mag.Sign() > 0 {
		var t big.Int
		t.Exp(prime.Big(slotOperand), &mag, nil)
		c.Mul(c, &t)
	}
	if neg == 1 {
		c.Mul(c, prime.Big(slotNegFlag))
	}
	if chk := prime.Checksum(int(op), operand); chk > 0 {
		var t big.Int
		t.Exp(prime.Big(slotChecksum), big.NewInt(int64(chk)), nil)
		c.Mul(c, &t)
	}
	return c, nil
}

// MustEncode is Encode for operands known valid at compile time (tests,
// program builders).
func MustEncode(op Op, operand int64) *big.Int {
	c, err := Encode(op, big.NewInt(operand))
	if err != nil {
		panic(err)
	}
	return c
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Decode factors a chunk back into its opcode and signed operand. The
// checksum exponent is recomputed and verified; a mismatch, a leftover
// factor, or a NEG_FLAG exponent above 1 yields an *ErrCorrupt.
func Decode(c *big.Int) (Op, *big.Int, error) {
	if c == nil || c.Sign() <= 0 {
		return 0, nil, &ErrCorrupt{Reason: "not a positive integer"}
	}

	rest := new(big.Int).Set(c)
	opExp := divideOut(rest, prime.Big(slotOpcode))
	operand := new(big.Int)
	divideOutBig(rest, prime.Big(slotOperand), operand)
	negExp := divideOut(rest, prime.Big(slotNegFlag))
	chkExp := divideOut(rest, prime.Big(slotChecksum))

	if rest.Cmp(one) != 0 {
		return 0, nil, &ErrCorrupt{Reason: "unexpected prime factor"}
	}
	if negExp > 1 {
		return 0, nil, &ErrCorrupt{Reason: "NEG_FLAG exponent out of range"}
	}
	if negExp == 1 && operand.Sign() == 0 {
		return 0, nil, &ErrCorrupt{Reason: "NEG_FLAG on zero operand"}
	}
	op := Op(opExp)
	if !op.Valid() {
		return 0, nil, &ErrCorrupt{Reason: fmt.Sprintf("unknown opcode %d", opExp)}
	}
	if negExp == 1 {
		operand.Neg(operand)
	}
	if prime.Checksum(int(op), operand) != int(chkExp) {
		return 0, nil, &ErrCorrupt{Reason: "checksum mismatch"}
	}
	return op, operand, nil
}

// divideOut removes every factor p from n and returns the exponent.
// Exponents in the opcode/neg/checksum slots are small by construction.
func divideOut(n, p *big.Int) int64 {
	var q, r big.Int
	exp := int64(0)
	for {
		q.QuoRem(n, p, &r)
		if r.Sign() != 0 {
			return exp
		}
		n.Set(&q)
		exp++
	}
}

// divideOutBig removes every factor p from n, accumulating the exponent in
// exp. The operand exponent is itself arbitrary precision.
func divideOutBig(n, p, exp *big.Int) {
	var q, r big.Int
	for {
		q.QuoRem(n, p, &r)
		if r.Sign() != 0 {
			return
		}
		n.Set(&q)
		exp.Add(exp, one)
	}
}
