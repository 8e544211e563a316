package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/UOR-Foundation/uor-labs/chunk"
)

// ---------------------------------------------------------------------------
// Profiler
// ---------------------------------------------------------------------------

// Profiler collects per-opcode execution counts, pc hotspots, decode-cache
// statistics, and sampled call stacks in flamegraph folded format. A nil
// profiler on the VM disables collection entirely.
type Profiler struct {
	mu sync.Mutex

	instructions uint64
	cacheHits    uint64
	cacheMisses  uint64
	opcodeCounts map[chunk.Op]uint64
	pcCounts     map[int]uint64
	samples      map[string]uint64 // folded call stack -> occurrences

	// SampleEvery controls call-stack sampling density; every Nth
	// instruction contributes one sample.
	SampleEvery uint64
}

// NewProfiler returns a profiler sampling every 16th instruction.
func NewProfiler() *Profiler {
	return &Profiler{
		opcodeCounts: make(map[chunk.Op]uint64),
		pcCounts:     make(map[int]uint64),
		samples:      make(map[string]uint64),
		SampleEvery:  16,
	}
}

// recordInstruction counts one dispatched instruction and, on sampling
// ticks, folds the current call stack into the histogram.
func (p *Profiler) recordInstruction(pc int, op chunk.Op, cacheHit bool, frames []Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instructions++
	if cacheHit {
		p.cacheHits++
	} else {
		p.cacheMisses++
	}
	p.opcodeCounts[op]++
	p.pcCounts[pc]++
	if p.SampleEvery > 0 && p.instructions%p.SampleEvery == 0 {
		p.samples[foldStack(frames, pc)]++
	}
}

// foldStack renders a call stack in flamegraph folded notation, outermost
// frame first.
func foldStack(frames []Frame, pc int) string {
	var b strings.Builder
	b.WriteString("program")
	for _, f := range frames {
		fmt.Fprintf(&b, ";call@%d", f.CallSite)
	}
	fmt.Fprintf(&b, ";chunk@%d", pc)
	return b.String()
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// Metrics is a point-in-time snapshot of collected counters.
type Metrics struct {
	Instructions uint64
	CacheHits    uint64
	CacheMisses  uint64
	OpcodeCounts map[chunk.Op]uint64
	PCCounts     map[int]uint64
}

// Metrics returns a copy of the current counters.
func (p *Profiler) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := Metrics{
		Instructions: p.instructions,
		CacheHits:    p.cacheHits,
		CacheMisses:  p.cacheMisses,
		OpcodeCounts: make(map[chunk.Op]uint64, len(p.opcodeCounts)),
		PCCounts:     make(map[int]uint64, len(p.pcCounts)),
	}
	for op, n := range p.opcodeCounts {
		m.OpcodeCounts[op] = n
	}
	for pc, n := range p.pcCounts {
		m.PCCounts[pc] = n
	}
	return m
}

// Report renders the metrics as a stable, human-readable table.
func (p *Profiler) Report() string {
	m := p.Metrics()
	var b strings.Builder
	fmt.Fprintf(&b, "instructions: %d\n", m.Instructions)
	fmt.Fprintf(&b, "decode cache: %d hits, %d misses\n", m.CacheHits, m.CacheMisses)

	ops := make([]chunk.Op, 0, len(m.OpcodeCounts))
	for op := range m.OpcodeCounts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if m.OpcodeCounts[ops[i]] != m.OpcodeCounts[ops[j]] {
			return m.OpcodeCounts[ops[i]] > m.OpcodeCounts[ops[j]]
		}
		return ops[i] < ops[j]
	})
	for _, op := range ops {
		fmt.Fprintf(&b, "%-14s %d\n", op, m.OpcodeCounts[op])
	}
	return b.String()
}

// Flamegraph returns the sampled call-stack histogram in folded format,
// one "stack count" line per unique stack, sorted for determinism.
func (p *Profiler) Flamegraph() string {
	p.mu.Lock()
	stacks := make([]string, 0, len(p.samples))
	for s := range p.samples {
		stacks = append(stacks, s)
	}
	counts := make(map[string]uint64, len(p.samples))
	for s, n := range p.samples {
		counts[s] = n
	}
	p.mu.Unlock()

	sort.Strings(stacks)
	var b strings.Builder
	for _, s := range stacks {
		fmt.Fprintf(&b, "%s %d\n", s, counts[s])
	}
	return b.String()
}
