package vm

import (
	"math/big"
	"sort"
)

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// Memory is the sparse address-indexed value store. Reads of undefined
// addresses yield zero. Addresses must fit in an int64; values are
// unbounded.
type Memory struct {
	cells  map[int64]*big.Int
	mark   int64             // allocation high-water mark
	free   map[int64][]int64 // block size -> free bases
	allocs map[int64]int64   // live base -> size
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{
		cells:  make(map[int64]*big.Int),
		free:   make(map[int64][]int64),
		allocs: make(map[int64]int64),
	}
}

// Load returns the value at addr, zero if the cell was never written.
func (m *Memory) Load(addr int64) *big.Int {
	if v, ok := m.cells[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Store writes v to addr.
func (m *Memory) Store(addr int64, v *big.Int) {
	m.cells[addr] = new(big.Int).Set(v)
}

// Alloc reserves n contiguous currently-unallocated addresses and returns
// the base. A free block of exactly matching size is reused before the
// high-water mark is extended.
func (m *Memory) Alloc(n int64) int64 {
	if bases := m.free[n]; len(bases) > 0 {
		base := bases[len(bases)-1]
		m.free[n] = bases[:len(bases)-1]
		m.allocs[base] = n
		m.clear(base, n)
		return base
	}
	base := m.mark
	m.mark += n
	m.allocs[base] = n
	return base
}

// Free releases the region based at base, returning it to the free list.
// Freeing an address that is not a live allocation base reports false.
func (m *Memory) Free(base int64) bool {
	n, ok := m.allocs[base]
	if !ok {
		return false
	}
	delete(m.allocs, base)
	m.clear(base, n)
	m.free[n] = append(m.free[n], base)
	return true
}

func (m *Memory) clear(base, n int64) {
	for i := int64(0); i < n; i++ {
		delete(m.cells, base+i)
	}
}

// Live returns the number of live allocations.
func (m *Memory) Live() int {
	return len(m.allocs)
}

// Cells returns a deep copy of every written cell, for snapshots.
func (m *Memory) Cells() map[int64]*big.Int {
	out := make(map[int64]*big.Int, len(m.cells))
	for a, v := range m.cells {
		out[a] = new(big.Int).Set(v)
	}
	return out
}

// Addresses returns the written addresses in ascending order.
func (m *Memory) Addresses() []int64 {
	addrs := make([]int64, 0, len(m.cells))
	for a := range m.cells {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
