package vm

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/UOR-Foundation/uor-labs/chunk"
)

// ---------------------------------------------------------------------------
// Checkpoint snapshots
// ---------------------------------------------------------------------------

// Snapshot is the full serializable VM state captured by CHECKPOINT.
// Restoring it onto the identical program resumes execution at the
// instruction after the checkpoint.
type Snapshot struct {
	ProgramHash [32]byte           `cbor:"1,keyasint"`
	PC          int                `cbor:"2,keyasint"`
	Stack       []*big.Int         `cbor:"3,keyasint"` // bottom first
	Memory      map[int64]*big.Int `cbor:"4,keyasint"` // written cells only
	Frames      []Frame            `cbor:"5,keyasint"`
	AllocMark   int64              `cbor:"6,keyasint"`
	FreeBlocks  map[int64][]int64  `cbor:"7,keyasint"` // size -> bases
	LiveAllocs  map[int64]int64    `cbor:"8,keyasint"` // base -> size
}

// Sink receives snapshots from the CHECKPOINT instruction. A failed save
// halts the VM with a HostGatewayFailure.
type Sink interface {
	Save(*Snapshot) error
}

// MemorySink collects snapshots in memory, mainly for tests and embedders
// that handle persistence themselves.
type MemorySink struct {
	Snapshots []*Snapshot
}

// Save implements Sink.
func (s *MemorySink) Save(snap *Snapshot) error {
	s.Snapshots = append(s.Snapshots, snap)
	return nil
}

// cborEncMode uses canonical form so equal snapshots marshal to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

// MarshalSnapshot encodes a snapshot to canonical CBOR.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot decodes a CBOR snapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Capture and restore
// ---------------------------------------------------------------------------

// Snapshot captures the current VM state. PC is the index of the
// instruction after the one being executed, so a restored VM continues
// past the CHECKPOINT.
func (v *VM) Snapshot() *Snapshot {
	snap := &Snapshot{
		ProgramHash: v.prog.Hash(),
		PC:          v.pc,
		Stack:       v.stack.Values(),
		Memory:      v.mem.Cells(),
		Frames:      append([]Frame(nil), v.frames...),
		AllocMark:   v.mem.mark,
		FreeBlocks:  make(map[int64][]int64, len(v.mem.free)),
		LiveAllocs:  make(map[int64]int64, len(v.mem.allocs)),
	}
	for size, bases := range v.mem.free {
		snap.FreeBlocks[size] = append([]int64(nil), bases...)
	}
	for base, size := range v.mem.allocs {
		snap.LiveAllocs[base] = size
	}
	return snap
}

// Restore builds a VM positioned at the snapshot state. The program must
// be the one the snapshot was taken from; identity is checked by hash.
func Restore(prog chunk.Program, snap *Snapshot) (*VM, error) {
	if prog.Hash() != snap.ProgramHash {
		return nil, fmt.Errorf("restore: program hash does not match snapshot")
	}
	v := New(prog)
	v.pc = snap.PC
	for _, val := range snap.Stack {
		v.stack.Push(new(big.Int).Set(val))
	}
	for addr, val := range snap.Memory {
		v.mem.Store(addr, val)
	}
	v.frames = append([]Frame(nil), snap.Frames...)
	v.mem.mark = snap.AllocMark
	for size, bases := range snap.FreeBlocks {
		v.mem.free[size] = append([]int64(nil), bases...)
	}
	for base, size := range snap.LiveAllocs {
		v.mem.allocs[base] = size
	}
	return v, nil
}
