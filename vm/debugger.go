package vm

import (
	"math/big"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/UOR-Foundation/uor-labs/chunk"
)

// ---------------------------------------------------------------------------
// Debug hook interface
// ---------------------------------------------------------------------------

// DebugController receives pre- and post-execute callbacks from the
// dispatch loop. The loop only touches it through a nil-checked field, so
// running without a controller costs one pointer comparison per
// instruction.
type DebugController interface {
	// PreExecute runs before an instruction dispatches. It may block to
	// suspend the VM (breakpoints, stepping).
	PreExecute(pc int, op chunk.Op, operand *big.Int, stackDepth int)

	// PostExecute runs after an instruction completes.
	PostExecute(pc int, op chunk.Op)

	// Break is invoked by the BRK instruction.
	Break(pc int)
}

// ---------------------------------------------------------------------------
// Debug events
// ---------------------------------------------------------------------------

// DebugEvent is sent to clients when execution stops or a watchpoint fires.
type DebugEvent struct {
	Type string // "breakpoint", "step", "brk", "watchpoint"
	PC   int
	Addr int64    // watched address, for watchpoint events
	Old  *big.Int // previous value, for watchpoint events
	New  *big.Int // current value, for watchpoint events
}

// ---------------------------------------------------------------------------
// DebugServer
// ---------------------------------------------------------------------------

// DebugServer is the interactive DebugController: breakpoints by chunk
// index, watchpoints by memory address, cooperative pause/resume and
// single-stepping.
type DebugServer struct {
	vm  *VM
	log commonlog.Logger

	mu          sync.Mutex
	breakpoints map[int]bool
	watch       map[int64]*big.Int // addr -> last observed value
	stepMode    bool

	resumeCh chan struct{}
	events   chan DebugEvent
}

// NewDebugServer creates a detached debug server. Attach it with
// VM.AttachDebugger before running.
func NewDebugServer() *DebugServer {
	return &DebugServer{
		log:         commonlog.GetLogger("uor.debug"),
		breakpoints: make(map[int]bool),
		watch:       make(map[int64]*big.Int),
		resumeCh:    make(chan struct{}),
		events:      make(chan DebugEvent, 64),
	}
}

// Events returns the channel on which stop and watchpoint events are
// delivered.
func (d *DebugServer) Events() <-chan DebugEvent {
	return d.events
}

// AddBreakpoint arms a breakpoint at the given chunk index.
func (d *DebugServer) AddBreakpoint(pc int) {
	d.mu.Lock()
	d.breakpoints[pc] = true
	d.mu.Unlock()
}

// RemoveBreakpoint disarms a breakpoint.
func (d *DebugServer) RemoveBreakpoint(pc int) {
	d.mu.Lock()
	delete(d.breakpoints, pc)
	d.mu.Unlock()
}

// AddWatchpoint arms a watchpoint on a memory address. The first
// post-execute callback in which the address's value differs from the
// recorded snapshot fires the watchpoint.
func (d *DebugServer) AddWatchpoint(addr int64) {
	d.mu.Lock()
	snap := new(big.Int)
	if d.vm != nil {
		snap = d.vm.mem.Load(addr)
	}
	d.watch[addr] = snap
	d.mu.Unlock()
}

// RemoveWatchpoint disarms a watchpoint.
func (d *DebugServer) RemoveWatchpoint(addr int64) {
	d.mu.Lock()
	delete(d.watch, addr)
	d.mu.Unlock()
}

// Resume releases a suspended VM.
func (d *DebugServer) Resume() {
	d.resumeCh <- struct{}{}
}

// Step releases a suspended VM for exactly one instruction.
func (d *DebugServer) Step() {
	d.mu.Lock()
	d.stepMode = true
	d.mu.Unlock()
	d.resumeCh <- struct{}{}
}

// ---------------------------------------------------------------------------
// DebugController implementation
// ---------------------------------------------------------------------------

// PreExecute suspends when a breakpoint is armed at pc or step mode is
// active, and blocks until Resume or Step.
func (d *DebugServer) PreExecute(pc int, op chunk.Op, operand *big.Int, stackDepth int) {
	d.mu.Lock()
	hit := d.breakpoints[pc]
	step := d.stepMode
	d.stepMode = false
	d.mu.Unlock()

	if !hit && !step {
		return
	}
	kind := "breakpoint"
	if !hit {
		kind = "step"
	}
	d.log.Infof("stopped (%s) at chunk %d: %s", kind, pc, op)
	d.suspend(DebugEvent{Type: kind, PC: pc})
}

// PostExecute compares every watched address against its snapshot and
// fires the watchpoint on the first observed change.
func (d *DebugServer) PostExecute(pc int, op chunk.Op) {
	if d.vm == nil {
		return
	}
	type hit struct {
		addr     int64
		old, cur *big.Int
	}
	d.mu.Lock()
	var hits []hit
	for addr, old := range d.watch {
		cur := d.vm.mem.Load(addr)
		if cur.Cmp(old) != 0 {
			hits = append(hits, hit{addr, old, cur})
			d.watch[addr] = cur
		}
	}
	d.mu.Unlock()

	for _, h := range hits {
		d.log.Infof("watchpoint at address %d: %s -> %s (chunk %d)", h.addr, h.old, h.cur, pc)
		d.suspend(DebugEvent{Type: "watchpoint", PC: pc, Addr: h.addr, Old: h.old, New: h.cur})
	}
}

// Break suspends at a BRK instruction.
func (d *DebugServer) Break(pc int) {
	d.log.Infof("BRK at chunk %d", pc)
	d.suspend(DebugEvent{Type: "brk", PC: pc})
}

// suspend publishes the event and blocks the executing goroutine until the
// client resumes. Events are buffered (64 slots); once the buffer is full,
// further events are dropped and the VM keeps running instead of
// suspending for them.
func (d *DebugServer) suspend(ev DebugEvent) {
	select {
	case d.events <- ev:
	default:
		return
	}
	<-d.resumeCh
}
