package chunk

import (
	"math/big"
	"testing"
)

// ---------------------------------------------------------------------------
// Round-trip
// ---------------------------------------------------------------------------

func TestEncodeDecodeRoundtrip(t *testing.T) {
	args := []int64{0, 1, -1, 2, 5, -5, 100, -100, 4096}
	for op := range opTable {
		for _, arg := range args {
			if op.Arity() == 0 && arg != 0 {
				continue
			}
			c, err := Encode(op, big.NewInt(arg))
			if err != nil {
				t.Fatalf("Encode(%s, %d): %v", op, arg, err)
			}
			gotOp, gotArg, err := Decode(c)
			if err != nil {
				t.Fatalf("Decode(Encode(%s, %d)): %v", op, arg, err)
			}
			if gotOp != op || gotArg.Int64() != arg {
				t.Errorf("roundtrip (%s, %d) = (%s, %s)", op, arg, gotOp, gotArg)
			}
		}
	}
}

func TestEncodeDecodeBigOperand(t *testing.T) {
	arg := new(big.Int).SetInt64(100000)
	c, err := Encode(OpPush, arg)
	if err != nil {
		t.Fatal(err)
	}
	_, gotArg, err := Decode(c)
	if err != nil {
		t.Fatal(err)
	}
	if gotArg.Cmp(arg) != 0 {
		t.Errorf("big operand roundtrip = %s, want %s", gotArg, arg)
	}
}

func TestEncodeNegativeZero(t *testing.T) {
	pos, err := Encode(OpJmp, big.NewInt(0))
	if err != nil {
		t.Fatal(err)
	}
	// big.Int has no -0, but an explicitly negated zero must encode the
	// same chunk.
	negZero := new(big.Int).Neg(big.NewInt(0))
	neg, err := Encode(OpJmp, negZero)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Cmp(neg) != 0 {
		t.Errorf("JMP 0 and JMP -0 encode differently: %s vs %s", pos, neg)
	}
}

func TestEncodeRejectsOperandOnArityZero(t *testing.T) {
	if _, err := Encode(OpAdd, big.NewInt(3)); err == nil {
		t.Error("Encode(ADD, 3) succeeded, want error")
	}
}

func TestEncodeRejectsUnknownOpcode(t *testing.T) {
	if _, err := Encode(Op(999), nil); err == nil {
		t.Error("Encode of unknown opcode succeeded")
	}
}

// ---------------------------------------------------------------------------
// Corruption detection
// ---------------------------------------------------------------------------

func TestDecodeRejectsForeignPrime(t *testing.T) {
	c := MustEncode(OpPush, 3)
	c.Mul(c, big.NewInt(11))
	if _, _, err := Decode(c); err == nil {
		t.Error("chunk with factor 11 decoded, want ChunkCorrupt")
	}
}

func TestDecodeDetectsSlotPerturbation(t *testing.T) {
	// Bumping any slot prime's exponent must invalidate the chunk.
	cases := []struct {
		op  Op
		arg int64
	}{
		{OpPush, 3},
		{OpJmp, -2},
		{OpNop, 0},
		{OpHalt, 0},
		{OpStore, 7}, // operand divisible by the checksum modulus
	}
	for _, tc := range cases {
		for _, slot := range []int64{2, 3, 5, 7} {
			c, err := Encode(tc.op, big.NewInt(tc.arg))
			if err != nil {
				t.Fatal(err)
			}
			c.Mul(c, big.NewInt(slot))
			if _, _, err := Decode(c); err == nil {
				t.Errorf("(%s %d) * %d decoded cleanly, want failure", tc.op, tc.arg, slot)
			}
		}
	}
}

func TestDecodeRejectsNonPositive(t *testing.T) {
	for _, v := range []*big.Int{nil, big.NewInt(0), big.NewInt(-6)} {
		if _, _, err := Decode(v); err == nil {
			t.Errorf("Decode(%s) succeeded, want error", v)
		}
	}
}

func TestDecodeRejectsDoubleNegFlag(t *testing.T) {
	c := MustEncode(OpJmp, -2)
	c.Mul(c, big.NewInt(5)) // NEG exponent 2
	if _, _, err := Decode(c); err == nil {
		t.Error("chunk with NEG exponent 2 decoded cleanly")
	}
}

// ---------------------------------------------------------------------------
// Opcode table
// ---------------------------------------------------------------------------

func TestOpcodeIDsUnique(t *testing.T) {
	seen := make(map[string]Op)
	for op, info := range opTable {
		if prev, dup := seen[info.name]; dup {
			t.Errorf("mnemonic %s assigned to both %d and %d", info.name, prev, op)
		}
		seen[info.name] = op
	}
}

func TestLookupCaseInsensitive(t *testing.T) {
	for _, name := range []string{"push", "Push", "PUSH", "thread_start"} {
		if _, ok := Lookup(name); !ok {
			t.Errorf("Lookup(%q) failed", name)
		}
	}
	if _, ok := Lookup("FROB"); ok {
		t.Error("Lookup(FROB) succeeded")
	}
}
