package vm

import (
	"strings"
	"testing"

	"github.com/UOR-Foundation/uor-labs/chunk"
)

func TestProfilerCountsInstructions(t *testing.T) {
	v := New(mustAssemble(t, "PUSH 1\nPUSH 2\nADD\nPRINT\nHALT\n"))
	p := NewProfiler()
	v.SetProfiler(p)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	m := p.Metrics()
	if m.Instructions != 5 {
		t.Errorf("instructions = %d, want 5", m.Instructions)
	}
	if m.OpcodeCounts[chunk.OpPush] != 2 {
		t.Errorf("PUSH count = %d, want 2", m.OpcodeCounts[chunk.OpPush])
	}
	if m.OpcodeCounts[chunk.OpAdd] != 1 {
		t.Errorf("ADD count = %d, want 1", m.OpcodeCounts[chunk.OpAdd])
	}
}

func TestProfilerDecodeCacheHits(t *testing.T) {
	v := New(mustAssemble(t, countdownSrc))
	p := NewProfiler()
	v.SetProfiler(p)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	m := p.Metrics()
	// The loop body executes three times, so revisited chunks must hit the
	// decode cache.
	if m.CacheHits == 0 {
		t.Error("loop produced no decode-cache hits")
	}
	if m.CacheMisses == 0 {
		t.Error("first visits produced no decode-cache misses")
	}
}

func TestProfilerHotspots(t *testing.T) {
	v := New(mustAssemble(t, countdownSrc))
	p := NewProfiler()
	v.SetProfiler(p)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	m := p.Metrics()
	// The loop head (chunk 2) runs three times.
	if m.PCCounts[2] != 3 {
		t.Errorf("chunk 2 count = %d, want 3", m.PCCounts[2])
	}
}

func TestProfilerReportStable(t *testing.T) {
	v := New(mustAssemble(t, "PUSH 1\nPRINT\nHALT\n"))
	p := NewProfiler()
	v.SetProfiler(p)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	r := p.Report()
	if !strings.Contains(r, "instructions: 3") {
		t.Errorf("report missing instruction count:\n%s", r)
	}
	if !strings.Contains(r, "PUSH") {
		t.Errorf("report missing opcode row:\n%s", r)
	}
}

func TestFlamegraphFoldedFormat(t *testing.T) {
	v := New(mustAssemble(t, countdownSrc))
	p := NewProfiler()
	p.SampleEvery = 1
	v.SetProfiler(p)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	fg := p.Flamegraph()
	if fg == "" {
		t.Fatal("empty flamegraph with SampleEvery=1")
	}
	for _, line := range strings.Split(strings.TrimRight(fg, "\n"), "\n") {
		if !strings.HasPrefix(line, "program;") {
			t.Errorf("folded line %q does not start with the root frame", line)
		}
		if len(strings.Fields(line)) != 2 {
			t.Errorf("folded line %q is not \"stack count\"", line)
		}
	}
}

func TestFlamegraphRecordsCallFrames(t *testing.T) {
	v := New(mustAssemble(t, "CALL sub\nHALT\nsub:\nPUSH 5\nPRINT\nRET\n"))
	p := NewProfiler()
	p.SampleEvery = 1
	v.SetProfiler(p)
	if err := v.Run(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.Flamegraph(), "call@0;") {
		t.Errorf("flamegraph has no frame for the CALL site:\n%s", p.Flamegraph())
	}
}
