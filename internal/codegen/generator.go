// Completion: 100% - Code generation for all instructions and overflow policies
package codegen

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/xyproto/bfc/internal/backend"
	"github.com/xyproto/bfc/internal/bf"
)

// generator.go - Lowering a canonical program to a control-flow graph
//
// The program is walked exactly once. Straight-line instructions are appended
// to the current block; loops and bounds checks start new blocks:
//
//   pre:    br header
//   header: %c = load cell; icmp eq %c, 0; br %z, footer, body
//   body:   ...; br header
//   footer: ... (continues the program)
//
// Under the Abort policy every pointer move ends the current block with a
// conditional branch to a fresh "bounds.ok" block or the shared abort block.

// Function names in the generated module
const (
	EntryName    = "brainfuck"
	DebugLogName = "bf_debug_log"
	MainName     = "main"
)

// ContractError is raised (as a panic) when the instruction stream is malformed.
// It signals a caller bug, not a recoverable condition.
type ContractError struct {
	Index   int
	Message string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("malformed program at instruction %d: %s", e.Index, e.Message)
}

// Option customizes Generate
type Option func(*options)

type options struct {
	name     string
	withMain bool
	triple   string
}

// WithMain also emits a C main function that calls the entry function,
// which is needed when the object file is linked into an executable.
func WithMain() Option {
	return func(o *options) { o.withMain = true }
}

// WithName sets the module (source file) name
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithTargetTriple overrides the host target triple
func WithTargetTriple(triple string) Option {
	return func(o *options) { o.triple = triple }
}

type loopContext struct {
	header *ir.Block
	footer *ir.Block
}

// variable is a stack slot: emit-into-variable is store, emit-value is load
type variable struct {
	slot value.Value
	typ  types.Type
}

func (v variable) load(b *ir.Block) value.Value {
	return b.NewLoad(v.typ, v.slot)
}

func (v variable) store(b *ir.Block, x value.Value) {
	b.NewStore(x, v.slot)
}

type generator struct {
	unit    *backend.Unit
	machine Machine
	fn      *ir.Func
	block   *ir.Block // current block

	malloc, free, getchar, putchar *ir.Func

	memory   value.Value   // i8* base of the tape
	capacity *constant.Int // i64 cell count
	index    variable      // i64 tape index
	cell     variable      // i8* address of the current cell

	loops    []loopContext
	abort    *ir.Block // shared abort path, created on first bounds check
	debugLog *ir.Func  // trace routine, created on first DebugLog
	logged   int64     // instructions lowered so far, used as the trace index
}

// Generate lowers p for machine m into a new compilation unit whose Entry is
// the program function. Machine.Debug interleaves DebugLog instructions first.
//
// An EndLoop without an open loop panics with a *ContractError.
func Generate(p bf.Program, m Machine, opts ...Option) (*backend.Unit, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	o := options{name: "brainfuck"}
	for _, opt := range opts {
		opt(&o)
	}
	if m.Debug {
		p = bf.InterleaveDebug(p)
	}

	g := &generator{
		unit:    backend.NewUnit(o.name),
		machine: m,
	}
	if o.triple != "" {
		g.unit.SetTargetTriple(o.triple)
	}
	g.declareRuntime()
	g.prologue()
	for i, in := range p {
		g.lower(i, in)
	}
	g.epilogue()
	if o.withMain {
		g.emitMain()
	}

	if glog.V(3) {
		glog.Infof("codegen: %d instructions lowered into %d blocks (%s)", len(p), len(g.fn.Blocks), m)
	}
	return g.unit, nil
}

func (g *generator) declareRuntime() {
	g.malloc = g.unit.Declare("malloc", backend.I8Ptr, backend.I64)
	g.free = g.unit.Declare("free", backend.Void, backend.I8Ptr)
	g.getchar = g.unit.Declare("getchar", backend.I32)
	g.putchar = g.unit.Declare("putchar", backend.I32, backend.I32)
	g.fn = g.unit.Define(EntryName, backend.I32)
	g.unit.Entry = g.fn
	g.capacity = constant.NewInt(backend.I64, int64(g.machine.Capacity))
}

// prologue allocates the tape, zero-fills it with a generated loop and
// initializes the index and cell-address variables.
func (g *generator) prologue() {
	entry := g.unit.NewBlock(g.fn, "entry")
	g.index = variable{slot: entry.NewAlloca(backend.I64), typ: backend.I64}
	g.cell = variable{slot: entry.NewAlloca(backend.I8Ptr), typ: backend.I8Ptr}
	g.memory = entry.NewCall(g.malloc, g.capacity)
	g.index.store(entry, i64(0))
	g.cell.store(entry, g.memory)

	cond := g.unit.NewBlock(g.fn, "zero.cond")
	body := g.unit.NewBlock(g.fn, "zero.body")
	done := g.unit.NewBlock(g.fn, "start")
	entry.NewBr(cond)

	// for i := 0; i != capacity; i++ { memory[i] = 0 }
	i := cond.NewPhi(ir.NewIncoming(i64(0), entry))
	cond.NewCondBr(cond.NewICmp(enum.IPredEQ, i, g.capacity), done, body)

	body.NewStore(i8(0), body.NewGetElementPtr(backend.I8, g.memory, i))
	next := body.NewAdd(i, i64(1))
	body.NewBr(cond)
	i.Incs = append(i.Incs, ir.NewIncoming(next, body))

	g.block = done
}

func (g *generator) lower(pos int, in bf.Instruction) {
	b := g.block
	switch in.Kind {
	case bf.SetValue:
		b.NewStore(i8(in.Value), g.cell.load(b))

	case bf.AddValue:
		ptr := g.cell.load(b)
		sum := b.NewAdd(b.NewLoad(backend.I8, ptr), i8(in.Value))
		b.NewStore(sum, ptr)

	case bf.AddPointer:
		g.movePointer(in.Offset)

	case bf.Input:
		c := b.NewCall(g.getchar)
		b.NewStore(b.NewTrunc(c, backend.I8), g.cell.load(b))

	case bf.Output:
		c := b.NewLoad(backend.I8, g.cell.load(b))
		b.NewCall(g.putchar, b.NewZExt(c, backend.I32))

	case bf.BeginLoop:
		header := g.unit.NewBlock(g.fn, "loop.header")
		body := g.unit.NewBlock(g.fn, "loop.body")
		footer := g.unit.NewBlock(g.fn, "loop.footer")
		b.NewBr(header)

		c := header.NewLoad(backend.I8, g.cell.load(header))
		header.NewCondBr(header.NewICmp(enum.IPredEQ, c, i8(0)), footer, body)

		g.loops = append(g.loops, loopContext{header: header, footer: footer})
		g.block = body

	case bf.EndLoop:
		if len(g.loops) == 0 {
			panic(&ContractError{Index: pos, Message: "EndLoop without a matching BeginLoop"})
		}
		loop := g.loops[len(g.loops)-1]
		g.loops = g.loops[:len(g.loops)-1]
		b.NewBr(loop.header)
		g.block = loop.footer

	case bf.DebugLog:
		b.NewCall(g.debugRoutine(), i64(g.logged), g.memory, g.capacity, g.index.load(b))
	}

	if in.Kind != bf.DebugLog {
		g.logged++
	}
}

func (g *generator) movePointer(offset int64) {
	b := g.block
	index := value.Value(b.NewAdd(g.index.load(b), i64(offset)))

	switch g.machine.Overflow {
	case Wrap:
		index = b.NewURem(index, g.capacity)
	case Abort:
		if g.abort == nil {
			g.abort = g.unit.NewBlock(g.fn, "bounds.abort")
		}
		ok := g.unit.NewBlock(g.fn, "bounds.ok")
		b.NewCondBr(b.NewICmp(enum.IPredULT, index, g.capacity), ok, g.abort)
		b = ok
		g.block = ok
	}

	g.index.store(b, index)
	g.cell.store(b, b.NewGetElementPtr(backend.I8, g.memory, index))
}

// epilogue returns the current cell from the normal path and fills the abort
// path, when one was created, with its own free and sentinel return.
func (g *generator) epilogue() {
	b := g.block
	result := b.NewLoad(backend.I8, g.cell.load(b))
	b.NewCall(g.free, g.memory)
	b.NewRet(b.NewSExt(result, backend.I32))

	if g.abort != nil {
		g.abort.NewCall(g.free, g.memory)
		g.abort.NewRet(i32(AbortExitCode))
	}
}

func (g *generator) emitMain() {
	main := g.unit.Define(MainName, backend.I32)
	entry := g.unit.NewBlock(main, "entry")
	entry.NewRet(entry.NewCall(g.fn))
}

func i8(v int8) *constant.Int {
	return constant.NewInt(backend.I8, int64(v))
}

func i32(v int32) *constant.Int {
	return constant.NewInt(backend.I32, int64(v))
}

func i64(v int64) *constant.Int {
	return constant.NewInt(backend.I64, v)
}
