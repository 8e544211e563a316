package chunk

import (
	"bytes"
	"strings"
	"testing"
)

func sampleProgram(t *testing.T) Program {
	t.Helper()
	return Program{
		MustEncode(OpPush, 3),
		MustEncode(OpPrint, 0),
		MustEncode(OpHalt, 0),
	}
}

func TestProgramWriteRead(t *testing.T) {
	prog := sampleProgram(t)
	var buf bytes.Buffer
	if err := prog.Write(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(prog) {
		t.Fatalf("read %d chunks, want %d", len(got), len(prog))
	}
	for i := range prog {
		if got[i].Cmp(prog[i]) != 0 {
			t.Errorf("chunk %d = %s, want %s", i, got[i], prog[i])
		}
	}
}

func TestReadSkipsCommentsAndBlanks(t *testing.T) {
	src := "# header comment\n\n12  # trailing\n\n34\n"
	prog, err := Read(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(prog) != 2 || prog[0].Int64() != 12 || prog[1].Int64() != 34 {
		t.Errorf("Read = %v", prog)
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, err := Read(strings.NewReader("12\nnot-a-number\n")); err == nil {
		t.Error("Read of garbage line succeeded")
	}
}

func TestProgramHashChangesWithContent(t *testing.T) {
	a := sampleProgram(t)
	b := sampleProgram(t)
	if a.Hash() != b.Hash() {
		t.Error("identical programs hash differently")
	}
	b[0] = MustEncode(OpPush, 4)
	if a.Hash() == b.Hash() {
		t.Error("different programs hash identically")
	}
}
