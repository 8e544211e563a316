package vm

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/UOR-Foundation/uor-labs/chunk"
)

var threadLog = commonlog.GetLogger("uor.thread")

// ---------------------------------------------------------------------------
// Subordinate threads
// ---------------------------------------------------------------------------

// thread tracks one spawned subordinate VM. The handle value pushed onto
// the parent stack keys the parent's thread table; uid only labels logs.
type thread struct {
	handle int64
	uid    string
	done   chan struct{}
	out    []OutputEntry
	err    *Error
}

// startThread spawns a subordinate VM over the chunk range body, seeded
// with a copy of the parent stack and fresh memory. Threads never share
// memory; their output is concatenated into the parent's queue at join.
func (v *VM) startThread(body chunk.Program) *thread {
	v.nextHandle++
	t := &thread{
		handle: v.nextHandle,
		uid:    uuid.NewString(),
		done:   make(chan struct{}),
	}
	v.threads[t.handle] = t

	child := New(body)
	child.stack = v.stack.Clone()
	child.gateway = v.gateway
	child.profiler = v.profiler
	child.stepLimit = v.stepLimit

	threadLog.Debugf("spawning thread %d (%s) over %d chunks", t.handle, t.uid, len(body))
	go func() {
		defer close(t.done)
		if err := child.Run(); err != nil {
			t.err = asVMError(err)
		}
		t.out = child.out.entries
		threadLog.Debugf("thread %d (%s) finished", t.handle, t.uid)
	}()
	return t
}

// joinThread blocks until the thread terminates, merges its output into
// the parent queue, and re-raises the child's fatal error. A handle is
// joinable once and only once.
func (v *VM) joinThread(handle *big.Int) *Error {
	if !handle.IsInt64() {
		return fatalf(ErrThread, v.pc, "bad thread handle %s", handle)
	}
	t, ok := v.threads[handle.Int64()]
	if !ok {
		return fatalf(ErrThread, v.pc, "join of unknown or already-joined handle %s", handle)
	}
	delete(v.threads, handle.Int64())

	<-t.done
	v.out.concat(t.out)
	if t.err != nil {
		return t.err
	}
	return nil
}

// threadBodyEnd finds the chunk index of the HALT terminating a thread
// body started at index start. BLOCK and NTT spans are skipped so a HALT
// inside a nested region does not end the body early.
func threadBodyEnd(prog chunk.Program, start int) (int, *Error) {
	i := start
	for i < len(prog) {
		op, operand, err := chunk.Decode(prog[i])
		if err != nil {
			return 0, fatalf(ErrChunkCorrupt, i, "%v", err)
		}
		switch op {
		case chunk.OpHalt:
			return i, nil
		case chunk.OpBlock, chunk.OpNtt:
			n, convErr := spanLength(operand, i)
			if convErr != nil {
				return 0, convErr
			}
			i += 1 + n
		default:
			i++
		}
	}
	return 0, fatalf(ErrThread, start-1, "thread body is not terminated by HALT")
}

// spanLength validates a BLOCK/NTT length operand.
func spanLength(operand *big.Int, pc int) (int, *Error) {
	if operand.Sign() < 0 || !operand.IsInt64() {
		return 0, fatalf(ErrBadOperand, pc, "bad span length %s", operand)
	}
	return int(operand.Int64()), nil
}

// asVMError normalizes any error to the engine's fatal type.
func asVMError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: ErrThread, Msg: err.Error()}
}
