// Completion: 100% - Compilation unit wrapper complete
package backend

import (
	"fmt"
	"io"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/xyproto/bfc/internal/engine"
)

// unit.go - One compilation unit per compiled program
//
// A Unit owns an llir module plus the bookkeeping the generator needs:
// external declarations by name, unique block names per function and the
// entry-point handle.

// Common types used by generated code
var (
	Void   = types.Void
	I1     = types.I1
	I8     = types.I8
	I32    = types.I32
	I64    = types.I64
	I8Ptr  = types.I8Ptr
	I64Ptr = types.NewPointer(types.I64)
)

// Unit is a compilation unit: an IR module with an entry function
type Unit struct {
	Name   string
	Module *ir.Module
	Entry  *ir.Func

	funcs  map[string]*ir.Func
	blocks map[*ir.Func]map[string]int
}

// NewUnit creates an empty unit targeting the host
func NewUnit(name string) *Unit {
	m := ir.NewModule()
	m.SourceFilename = name
	m.TargetTriple = engine.HostTriple()
	return &Unit{
		Name:   name,
		Module: m,
		funcs:  make(map[string]*ir.Func),
		blocks: make(map[*ir.Func]map[string]int),
	}
}

// Declare adds an external function declaration, or returns the existing one
func (u *Unit) Declare(name string, ret types.Type, params ...types.Type) *ir.Func {
	if f, ok := u.funcs[name]; ok {
		return f
	}
	ps := make([]*ir.Param, len(params))
	for i, t := range params {
		ps[i] = ir.NewParam(fmt.Sprintf("a%d", i), t)
	}
	f := u.Module.NewFunc(name, ret, ps...)
	u.funcs[name] = f
	return f
}

// Define adds a function that will get a body
func (u *Unit) Define(name string, ret types.Type, params ...*ir.Param) *ir.Func {
	if _, ok := u.funcs[name]; ok {
		panic(fmt.Sprintf("backend: function %s defined twice", name))
	}
	f := u.Module.NewFunc(name, ret, params...)
	u.funcs[name] = f
	return f
}

// Func looks up a declared or defined function by name
func (u *Unit) Func(name string) (*ir.Func, bool) {
	f, ok := u.funcs[name]
	return f, ok
}

// NewBlock appends a basic block to f. Names are made unique per function
// by appending a counter, so callers can reuse descriptive names.
func (u *Unit) NewBlock(f *ir.Func, name string) *ir.Block {
	seen, ok := u.blocks[f]
	if !ok {
		seen = make(map[string]int)
		u.blocks[f] = seen
	}
	unique := name
	if n := seen[name]; n > 0 {
		unique = fmt.Sprintf("%s.%d", name, n)
	}
	seen[name]++
	return f.NewBlock(unique)
}

// SetTargetTriple overrides the target triple of the module
func (u *Unit) SetTargetTriple(triple string) {
	u.Module.TargetTriple = triple
}

// TargetTriple returns the target triple of the module
func (u *Unit) TargetTriple() string {
	return u.Module.TargetTriple
}

// Dump returns the textual IR of the module
func (u *Unit) Dump() string {
	return u.Module.String()
}

// WriteTo writes the textual IR of the module to w
func (u *Unit) WriteTo(w io.Writer) (int64, error) {
	n, err := io.Copy(w, strings.NewReader(u.Dump()))
	return n, err
}

// Defined reports whether f has a body
func Defined(f *ir.Func) bool {
	return len(f.Blocks) > 0
}
