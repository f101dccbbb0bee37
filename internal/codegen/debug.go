package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"

	"github.com/xyproto/bfc/internal/backend"
)

// traceDigits is the fixed width of the instruction and pointer index fields
const traceDigits = 5

// debugRoutine returns the trace routine, emitting it on first use.
//
// bf_debug_log(insn, mem, capacity, index) prints
//
//	\n<insn:5> <index:5><cell 0>|<cell 1>|...|\n
//
// with every cell written as its raw byte value.
func (g *generator) debugRoutine() *ir.Func {
	if g.debugLog != nil {
		return g.debugLog
	}

	insn := ir.NewParam("insn", backend.I64)
	mem := ir.NewParam("mem", backend.I8Ptr)
	capacity := ir.NewParam("capacity", backend.I64)
	index := ir.NewParam("index", backend.I64)
	f := g.unit.Define(DebugLogName, backend.Void, insn, mem, capacity, index)

	entry := g.unit.NewBlock(f, "entry")
	cond := g.unit.NewBlock(f, "cells.cond")
	body := g.unit.NewBlock(f, "cells.body")
	exit := g.unit.NewBlock(f, "cells.exit")

	g.putc(entry, '\n')
	g.printDecimal(entry, insn, traceDigits)
	g.putc(entry, ' ')
	g.printDecimal(entry, index, traceDigits)
	entry.NewBr(cond)

	// for i := 0; i != capacity; i++ { putchar(mem[i]); putchar('|') }
	i := cond.NewPhi(ir.NewIncoming(i64(0), entry))
	cond.NewCondBr(cond.NewICmp(enum.IPredNE, i, capacity), body, exit)

	c := body.NewLoad(backend.I8, body.NewGetElementPtr(backend.I8, mem, i))
	body.NewCall(g.putchar, body.NewZExt(c, backend.I32))
	g.putc(body, '|')
	next := body.NewAdd(i, i64(1))
	body.NewBr(cond)
	i.Incs = append(i.Incs, ir.NewIncoming(next, body))

	g.putc(exit, '\n')
	exit.NewRet(nil)

	g.debugLog = f
	return f
}

// printDecimal writes the low digits of the unsigned value v, most significant first
func (g *generator) printDecimal(b *ir.Block, v value.Value, digits int) {
	div := int64(1)
	for n := 1; n < digits; n++ {
		div *= 10
	}
	for ; div > 0; div /= 10 {
		d := b.NewURem(b.NewUDiv(v, i64(div)), i64(10))
		ch := b.NewAdd(d, i64('0'))
		b.NewCall(g.putchar, b.NewTrunc(ch, backend.I32))
	}
}

func (g *generator) putc(b *ir.Block, c byte) {
	b.NewCall(g.putchar, i32(int32(c)))
}
