package prime

import (
	"math/big"
	"sync"
	"testing"
)

func TestPrimeKnownValues(t *testing.T) {
	want := []int64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47}
	for i, w := range want {
		if got := Prime(i); got != w {
			t.Errorf("Prime(%d) = %d, want %d", i, got, w)
		}
	}
}

func TestPrimeStability(t *testing.T) {
	p100 := Prime(100)
	Prime(500)
	if got := Prime(100); got != p100 {
		t.Errorf("Prime(100) changed after growth: %d != %d", got, p100)
	}
}

func TestPrimeConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				Prime(g*50 + i)
			}
		}(g)
	}
	wg.Wait()
	if got := Prime(0); got != 2 {
		t.Errorf("Prime(0) = %d after concurrent growth", got)
	}
}

func TestChecksumDeterministic(t *testing.T) {
	a := Checksum(5, big.NewInt(1234))
	b := Checksum(5, big.NewInt(1234))
	if a != b {
		t.Errorf("Checksum not deterministic: %d != %d", a, b)
	}
}

func TestChecksumRange(t *testing.T) {
	operands := []int64{0, 1, -1, 6, 7, -7, 1 << 40}
	for op := 0; op < 50; op++ {
		for _, v := range operands {
			c := Checksum(op, big.NewInt(v))
			if c < 0 || c > 6 {
				t.Errorf("Checksum(%d, %d) = %d out of [0,6]", op, v, c)
			}
		}
	}
}

func TestChecksumSignSensitive(t *testing.T) {
	pos := Checksum(3, big.NewInt(7))
	neg := Checksum(3, big.NewInt(-7))
	if pos == neg {
		t.Errorf("Checksum ignores sign: %d == %d", pos, neg)
	}
}

func TestChecksumBigOperand(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	c := Checksum(9, huge)
	if c < 0 || c > 6 {
		t.Errorf("Checksum of huge operand = %d out of range", c)
	}
	if c != Checksum(9, new(big.Int).Set(huge)) {
		t.Error("Checksum of huge operand not deterministic")
	}
}
