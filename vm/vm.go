// Package vm executes prime-factorization chunk programs. The engine
// decodes each chunk as it is fetched, verifies its embedded checksum, and
// dispatches against an evaluation stack, a sparse memory, and a call
// stack. BLOCK runs a bounded span of following chunks in a subordinate
// engine; THREAD_START does the same on its own OS thread.
package vm

import (
	"math"
	"math/big"

	"github.com/UOR-Foundation/uor-labs/chunk"
)

// ---------------------------------------------------------------------------
// Call frames
// ---------------------------------------------------------------------------

// Frame is one call-stack record. ReturnPC is the chunk index immediately
// after the CALL.
type Frame struct {
	CallSite int `cbor:"1,keyasint"`
	ReturnPC int `cbor:"2,keyasint"`
}

// InputSource supplies values to INPUT once the queued input is exhausted.
// A blocking source may suspend the VM until a value is available.
type InputSource interface {
	ReadValue() (*big.Int, error)
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// decoded is one memoized decode result; the program is immutable, so each
// chunk index is factored at most once.
type decoded struct {
	op      chunk.Op
	operand *big.Int
}

// VM is a single execution context, top-level or subordinate.
type VM struct {
	prog   chunk.Program
	pc     int
	halted bool

	stack  *Stack
	mem    *Memory
	frames []Frame

	input    []*big.Int
	inputSrc InputSource
	out      *outputQueue

	gateway  HostGateway
	debug    DebugController
	profiler *Profiler
	sink     Sink

	cache []*decoded

	threads    map[int64]*thread
	nextHandle int64

	stepLimit  int64
	steps      int64
	skipHooks  bool // set by ATOMIC for the following instruction
}

// New creates a VM over an assembled program.
func New(prog chunk.Program) *VM {
	return &VM{
		prog:    prog,
		stack:   NewStack(),
		mem:     NewMemory(),
		out:     &outputQueue{},
		cache:   make([]*decoded, len(prog)),
		threads: make(map[int64]*thread),
	}
}

// SetGateway installs the host service gateway used by HASH, SIGN, VERIFY,
// RNG, SYSCALL, INT and the NET_* opcodes.
func (v *VM) SetGateway(g HostGateway) { v.gateway = g }

// SetProfiler installs a profiler; nil disables collection.
func (v *VM) SetProfiler(p *Profiler) { v.profiler = p }

// SetSink installs the persistence backend for CHECKPOINT; with no sink the
// instruction is a no-op.
func (v *VM) SetSink(s Sink) { v.sink = s }

// SetStepLimit bounds the number of executed instructions; 0 means
// unlimited. Exceeding the budget halts with a StepLimit error.
func (v *VM) SetStepLimit(n int64) { v.stepLimit = n }

// PushInput appends a value to the input queue consumed by INPUT.
func (v *VM) PushInput(val *big.Int) { v.input = append(v.input, val) }

// SetInputSource installs a blocking source consulted when the input queue
// is empty.
func (v *VM) SetInputSource(src InputSource) { v.inputSrc = src }

// SetDebugController installs a custom debug hook implementation.
func (v *VM) SetDebugController(c DebugController) { v.debug = c }

// AttachDebugger wires a DebugServer to this VM.
func (v *VM) AttachDebugger(d *DebugServer) {
	d.vm = v
	v.debug = d
}

// PC returns the current chunk index.
func (v *VM) PC() int { return v.pc }

// Stack exposes the evaluation stack, mainly for debuggers and embedders.
func (v *VM) Stack() *Stack { return v.stack }

// Memory exposes the memory, mainly for debuggers and embedders.
func (v *VM) Memory() *Memory { return v.mem }

// Frames returns a copy of the call stack, outermost first.
func (v *VM) Frames() []Frame { return append([]Frame(nil), v.frames...) }

// ---------------------------------------------------------------------------
// Main cycle
// ---------------------------------------------------------------------------

// Run executes until HALT, the end of the program, or a fatal error. The
// returned error is always a *Error.
func (v *VM) Run() error {
	for !v.halted && v.pc >= 0 && v.pc < len(v.prog) {
		if err := v.step(); err != nil {
			return err
		}
	}
	return nil
}

// fetch decodes the chunk at pc, memoized per index.
func (v *VM) fetch() (*decoded, bool, *Error) {
	if d := v.cache[v.pc]; d != nil {
		return d, true, nil
	}
	op, operand, err := chunk.Decode(v.prog[v.pc])
	if err != nil {
		return nil, false, fatalf(ErrChunkCorrupt, v.pc, "%v", err)
	}
	d := &decoded{op: op, operand: operand}
	v.cache[v.pc] = d
	return d, false, nil
}

// step runs a single fetch/decode/dispatch cycle.
func (v *VM) step() *Error {
	if v.stepLimit > 0 && v.steps >= v.stepLimit {
		return fatalf(ErrStepLimit, v.pc, "instruction budget of %d exhausted", v.stepLimit)
	}
	v.steps++

	d, cacheHit, err := v.fetch()
	if err != nil {
		return err
	}

	hooks := v.debug != nil && !v.skipHooks
	v.skipHooks = false
	if hooks {
		v.debug.PreExecute(v.pc, d.op, d.operand, v.stack.Len())
	}
	if v.profiler != nil {
		v.profiler.recordInstruction(v.pc, d.op, cacheHit, v.frames)
	}

	pc := v.pc
	if err := v.dispatch(d.op, d.operand); err != nil {
		return err
	}

	if hooks {
		v.debug.PostExecute(pc, d.op)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func (v *VM) dispatch(op chunk.Op, operand *big.Int) *Error {
	switch op {
	// Arithmetic
	case chunk.OpAdd:
		return v.binaryOp(op, func(z, a, b *big.Int) *Error { z.Add(a, b); return nil })
	case chunk.OpSub:
		return v.binaryOp(op, func(z, a, b *big.Int) *Error { z.Sub(a, b); return nil })
	case chunk.OpMul:
		return v.binaryOp(op, func(z, a, b *big.Int) *Error { z.Mul(a, b); return nil })
	case chunk.OpDiv:
		return v.binaryOp(op, func(z, a, b *big.Int) *Error {
			if b.Sign() == 0 {
				return fatalf(ErrDivisionByZero, v.pc, "integer division by zero")
			}
			z.Quo(a, b)
			return nil
		})
	case chunk.OpMod:
		return v.binaryOp(op, func(z, a, b *big.Int) *Error {
			if b.Sign() == 0 {
				return fatalf(ErrDivisionByZero, v.pc, "modulo by zero")
			}
			z.Rem(a, b)
			return nil
		})
	case chunk.OpNeg:
		top, ok := v.stack.Pop()
		if !ok {
			return v.underflow(op)
		}
		v.stack.Push(top.Neg(top))
		v.pc++
		return nil

	// Floating point (bit-punned float64 in the integer slot)
	case chunk.OpFMul:
		return v.floatOp(op, func(a, b float64) float64 { return a * b })
	case chunk.OpFDiv:
		return v.floatOp(op, func(a, b float64) float64 { return a / b })
	case chunk.OpF2I:
		f, err := v.popFloat(op)
		if err != nil {
			return err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fatalf(ErrBadOperand, v.pc, "F2I of non-finite value")
		}
		n, _ := big.NewFloat(f).Int(nil)
		v.stack.Push(n)
		v.pc++
		return nil
	case chunk.OpI2F:
		top, ok := v.stack.Pop()
		if !ok {
			return v.underflow(op)
		}
		f, _ := new(big.Float).SetInt(top).Float64()
		v.pushFloat(f)
		v.pc++
		return nil

	// Bitwise
	case chunk.OpAnd:
		return v.binaryOp(op, func(z, a, b *big.Int) *Error { z.And(a, b); return nil })
	case chunk.OpOr:
		return v.binaryOp(op, func(z, a, b *big.Int) *Error { z.Or(a, b); return nil })
	case chunk.OpXor:
		return v.binaryOp(op, func(z, a, b *big.Int) *Error { z.Xor(a, b); return nil })
	case chunk.OpShl:
		return v.shiftOp(op, func(a *big.Int, n uint) *big.Int { return a.Lsh(a, n) })
	case chunk.OpShr:
		return v.shiftOp(op, func(a *big.Int, n uint) *big.Int { return a.Rsh(a, n) })

	// Stack and memory
	case chunk.OpPush:
		v.stack.Push(new(big.Int).Set(operand))
		v.pc++
		return nil
	case chunk.OpLoad:
		addr, err := v.address(operand)
		if err != nil {
			return err
		}
		v.stack.Push(v.mem.Load(addr))
		v.pc++
		return nil
	case chunk.OpStore:
		addr, err := v.address(operand)
		if err != nil {
			return err
		}
		val, ok := v.stack.Pop()
		if !ok {
			return v.underflow(op)
		}
		v.mem.Store(addr, val)
		v.pc++
		return nil
	case chunk.OpAlloc:
		if operand.Sign() < 0 || !operand.IsInt64() {
			return fatalf(ErrBadOperand, v.pc, "bad allocation size %s", operand)
		}
		v.stack.Push(big.NewInt(v.mem.Alloc(operand.Int64())))
		v.pc++
		return nil
	case chunk.OpFree:
		base := operand
		if operand.Sign() == 0 {
			top, ok := v.stack.Pop()
			if !ok {
				return v.underflow(op)
			}
			base = top
		}
		addr, err := v.address(base)
		if err != nil {
			return err
		}
		if !v.mem.Free(addr) {
			return fatalf(ErrMemoryOutOfRange, v.pc, "free of unallocated base %d", addr)
		}
		v.pc++
		return nil

	// Control flow
	case chunk.OpJmp:
		return v.jump(operand)
	case chunk.OpJz:
		top, ok := v.stack.Pop()
		if !ok {
			return v.underflow(op)
		}
		if top.Sign() == 0 {
			return v.jump(operand)
		}
		v.pc++
		return nil
	case chunk.OpJnz:
		top, ok := v.stack.Pop()
		if !ok {
			return v.underflow(op)
		}
		if top.Sign() != 0 {
			return v.jump(operand)
		}
		v.pc++
		return nil
	case chunk.OpCall:
		v.frames = append(v.frames, Frame{CallSite: v.pc, ReturnPC: v.pc + 1})
		return v.jump(operand)
	case chunk.OpRet:
		if len(v.frames) == 0 {
			v.halted = true
			return nil
		}
		f := v.frames[len(v.frames)-1]
		v.frames = v.frames[:len(v.frames)-1]
		v.pc = f.ReturnPC
		return nil

	// I/O
	case chunk.OpPrint, chunk.OpOutput:
		top, ok := v.stack.Pop()
		if !ok {
			return v.underflow(op)
		}
		kind := OutPrint
		if op == chunk.OpOutput {
			kind = OutOutput
		}
		v.out.append(OutputEntry{Kind: kind, Value: top, PC: v.pc})
		v.pc++
		return nil
	case chunk.OpInput:
		val, err := v.readInput()
		if err != nil {
			return err
		}
		v.stack.Push(val)
		v.pc++
		return nil

	// Host services
	case chunk.OpNetSend:
		return v.hostCall(ServiceNetSend)
	case chunk.OpNetRecv:
		return v.hostCall(ServiceNetRecv)
	case chunk.OpHash:
		return v.hostCall(ServiceHash)
	case chunk.OpSign:
		return v.hostCall(ServiceSign)
	case chunk.OpVerify:
		return v.hostCall(ServiceVerify)
	case chunk.OpRng:
		return v.hostCall(ServiceRng)
	case chunk.OpSyscall:
		return v.hostCall(ServiceSyscall)
	case chunk.OpInt:
		return v.hostCall(ServiceInt)

	// Reflection and debugging
	case chunk.OpTrace:
		top, ok := v.stack.Peek()
		if !ok {
			return v.underflow(op)
		}
		v.out.append(OutputEntry{Kind: OutTrace, Value: new(big.Int).Set(top), PC: v.pc})
		v.pc++
		return nil
	case chunk.OpBrk:
		v.out.append(OutputEntry{Kind: OutBrk, PC: v.pc})
		if v.debug != nil {
			v.debug.Break(v.pc)
		}
		v.pc++
		return nil
	case chunk.OpDebug:
		v.out.append(OutputEntry{Kind: OutDebug, Value: big.NewInt(int64(v.pc)), PC: v.pc})
		v.pc++
		return nil
	case chunk.OpAtomic:
		v.skipHooks = true
		v.pc++
		return nil

	// Composites
	case chunk.OpBlock:
		return v.runBlock(operand)
	case chunk.OpNtt:
		n, err := spanLength(operand, v.pc)
		if err != nil {
			return err
		}
		if v.pc+1+n > len(v.prog) {
			return fatalf(ErrBadOperand, v.pc, "NTT span of %d chunks runs past the program", n)
		}
		if !nttRoundtrip(v.prog[v.pc+1 : v.pc+1+n]) {
			return fatalf(ErrIntegrity, v.pc, "NTT roundtrip mismatch over %d chunks", n)
		}
		v.pc++
		return nil

	// Threads
	case chunk.OpThreadStart:
		end, err := threadBodyEnd(v.prog, v.pc+1)
		if err != nil {
			return err
		}
		t := v.startThread(v.prog[v.pc+1 : end+1])
		v.stack.Push(big.NewInt(t.handle))
		v.pc = end + 1
		return nil
	case chunk.OpThreadJoin:
		handle, ok := v.stack.Pop()
		if !ok {
			return v.underflow(op)
		}
		if err := v.joinThread(handle); err != nil {
			return err
		}
		v.pc++
		return nil

	// Lifecycle
	case chunk.OpCheckpoint:
		v.pc++
		if v.sink == nil {
			return nil
		}
		if err := v.sink.Save(v.Snapshot()); err != nil {
			return fatalf(ErrHostGateway, v.pc-1, "checkpoint save: %v", err)
		}
		return nil
	case chunk.OpHalt:
		v.halted = true
		return nil
	case chunk.OpNop:
		v.pc++
		return nil
	}
	return fatalf(ErrChunkCorrupt, v.pc, "unimplemented opcode %s", op)
}

// ---------------------------------------------------------------------------
// Dispatch helpers
// ---------------------------------------------------------------------------

func (v *VM) underflow(op chunk.Op) *Error {
	return fatalf(ErrStackUnderflow, v.pc, "%s on empty stack", op)
}

// pop2 removes b (top) then a.
func (v *VM) pop2(op chunk.Op) (a, b *big.Int, err *Error) {
	b, ok := v.stack.Pop()
	if !ok {
		return nil, nil, v.underflow(op)
	}
	a, ok = v.stack.Pop()
	if !ok {
		return nil, nil, v.underflow(op)
	}
	return a, b, nil
}

func (v *VM) binaryOp(op chunk.Op, f func(z, a, b *big.Int) *Error) *Error {
	a, b, err := v.pop2(op)
	if err != nil {
		return err
	}
	z := new(big.Int)
	if err := f(z, a, b); err != nil {
		return err
	}
	v.stack.Push(z)
	v.pc++
	return nil
}

// maxShift bounds shift amounts; anything larger is a program bug, not a
// realistic operand.
const maxShift = 1 << 20

func (v *VM) shiftOp(op chunk.Op, f func(a *big.Int, n uint) *big.Int) *Error {
	a, b, err := v.pop2(op)
	if err != nil {
		return err
	}
	if b.Sign() < 0 || !b.IsInt64() || b.Int64() > maxShift {
		return fatalf(ErrBadOperand, v.pc, "bad shift amount %s", b)
	}
	v.stack.Push(f(a, uint(b.Int64())))
	v.pc++
	return nil
}

func (v *VM) popFloat(op chunk.Op) (float64, *Error) {
	top, ok := v.stack.Pop()
	if !ok {
		return 0, v.underflow(op)
	}
	if top.Sign() < 0 || !top.IsUint64() {
		return 0, fatalf(ErrBadOperand, v.pc, "value %s is not a float bit pattern", top)
	}
	return math.Float64frombits(top.Uint64()), nil
}

func (v *VM) pushFloat(f float64) {
	v.stack.Push(new(big.Int).SetUint64(math.Float64bits(f)))
}

func (v *VM) floatOp(op chunk.Op, f func(a, b float64) float64) *Error {
	b, err := v.popFloat(op)
	if err != nil {
		return err
	}
	a, err := v.popFloat(op)
	if err != nil {
		return err
	}
	v.pushFloat(f(a, b))
	v.pc++
	return nil
}

func (v *VM) address(val *big.Int) (int64, *Error) {
	if !val.IsInt64() {
		return 0, fatalf(ErrMemoryOutOfRange, v.pc, "address %s exceeds the addressable range", val)
	}
	return val.Int64(), nil
}

// jump applies a relative offset after the instruction. A landing point
// past the end terminates normally; a negative one is fatal.
func (v *VM) jump(offset *big.Int) *Error {
	if !offset.IsInt64() {
		return fatalf(ErrBadOperand, v.pc, "jump offset %s out of range", offset)
	}
	target := v.pc + 1 + int(offset.Int64())
	if target < 0 {
		return fatalf(ErrBadOperand, v.pc, "jump to negative chunk index %d", target)
	}
	v.pc = target
	return nil
}

func (v *VM) readInput() (*big.Int, *Error) {
	if len(v.input) > 0 {
		val := v.input[0]
		v.input = v.input[1:]
		return val, nil
	}
	if v.inputSrc != nil {
		val, err := v.inputSrc.ReadValue()
		if err != nil {
			return nil, fatalf(ErrInputExhausted, v.pc, "input source: %v", err)
		}
		return val, nil
	}
	return nil, fatalf(ErrInputExhausted, v.pc, "INPUT on empty queue")
}

func (v *VM) hostCall(svc Service) *Error {
	if v.gateway == nil {
		return fatalf(ErrHostGateway, v.pc, "%s with no gateway configured", svc)
	}
	if err := v.gateway.Invoke(svc, v.stack); err != nil {
		return fatalf(ErrHostGateway, v.pc, "%s: %v", svc, err)
	}
	v.pc++
	return nil
}

// runBlock executes the next n chunks in a subordinate VM with a copy of
// the stack and fresh memory, then advances past them. The child's output
// is concatenated in emission order; its fatal error aborts the parent.
func (v *VM) runBlock(operand *big.Int) *Error {
	n, err := spanLength(operand, v.pc)
	if err != nil {
		return err
	}
	if v.pc+1+n > len(v.prog) {
		return fatalf(ErrBadOperand, v.pc, "BLOCK span of %d chunks runs past the program", n)
	}

	child := New(v.prog[v.pc+1 : v.pc+1+n])
	child.stack = v.stack.Clone()
	child.gateway = v.gateway
	child.profiler = v.profiler
	child.stepLimit = v.stepLimit
	if runErr := child.Run(); runErr != nil {
		return asVMError(runErr)
	}
	v.out.concat(child.out.entries)
	v.pc += 1 + n
	return nil
}
