package chunk

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// ---------------------------------------------------------------------------
// Program serialization
// ---------------------------------------------------------------------------

// A Program is an ordered, immutable-once-assembled sequence of chunks.
type Program []*big.Int

// Write serializes the program as one decimal integer per line, the on-disk
// interchange form shared with the assembler CLI.
func (p Program) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, c := range p {
		if _, err := bw.WriteString(c.String()); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read parses a chunk list. Blank lines and '#' comments are ignored.
func Read(r io.Reader) (Program, error) {
	var prog Program
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c, ok := new(big.Int).SetString(line, 10)
		if !ok {
			return nil, fmt.Errorf("chunk list line %d: %q is not a decimal integer", lineNo, line)
		}
		prog = append(prog, c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return prog, nil
}

// Hash returns the SHA-256 digest over each chunk's big-endian bytes, each
// followed by a zero byte. Checkpoints carry it as the program identity.
func (p Program) Hash() [32]byte {
	h := sha256.New()
	for _, c := range p {
		h.Write(c.Bytes())
		h.Write([]byte{0})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
