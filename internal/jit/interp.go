// Completion: 100% - In-process execution of generated units
package jit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/xyproto/bfc/internal/backend"
)

// interp.go - Executes a compilation unit without leaving the process
//
// Only the instruction subset produced by the code generator is supported.
// External calls are limited to the C runtime functions the generator
// declares: malloc, free, getchar and putchar.

// Fault is a runtime error of the executed program, such as an out-of-bounds
// access under the undefined overflow policy.
type Fault struct {
	Func  string
	Block string
	Msg   string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("runtime fault in @%s, block %%%s: %s", f.Func, f.Block, f.Msg)
}

// ErrStepLimit is returned when a run exceeds its step limit
var ErrStepLimit = errors.New("step limit exceeded")

// Option customizes Run
type Option func(*machine)

// WithStepLimit stops the program after n executed blocks (0 means no limit)
func WithStepLimit(n uint64) Option {
	return func(m *machine) { m.limit = n }
}

// val is a runtime value: an integer of up to 64 bits, or a pointer
type val struct {
	n   uint64
	obj *object
	off int64
}

type machine struct {
	ctx    context.Context
	heap   *heap
	in     *bufio.Reader
	out    *bufio.Writer
	limit  uint64
	steps  uint64
	frames int
}

type frame struct {
	fn     *ir.Func
	args   map[*ir.Param]val
	values map[value.Value]val
	block  *ir.Block
}

const maxFrames = 1024

// Run executes the function called name in u and returns its result as an exit code.
// Output written by the program is flushed to stdout before Run returns.
func Run(ctx context.Context, u *backend.Unit, name string, stdin io.Reader, stdout io.Writer, opts ...Option) (int, error) {
	fn, ok := u.Func(name)
	if !ok || !backend.Defined(fn) {
		return 0, fmt.Errorf("jit: no function named %q with a body", name)
	}
	if len(fn.Params) != 0 {
		return 0, fmt.Errorf("jit: @%s takes parameters", name)
	}
	if stdin == nil {
		stdin = eofReader{}
	}
	m := &machine{
		ctx:  ctx,
		heap: newHeap(),
		in:   bufio.NewReader(stdin),
		out:  bufio.NewWriter(stdout),
	}
	for _, opt := range opts {
		opt(m)
	}
	defer m.heap.release()

	result, err := m.call(fn, nil)
	if flushErr := m.out.Flush(); err == nil && flushErr != nil {
		err = flushErr
	}
	if err != nil {
		return 0, err
	}
	if glog.V(3) {
		glog.Infof("jit: @%s returned after %d blocks", name, m.steps)
	}
	return int(signExtend(result.n, bitSize(fn.Sig.RetType))), nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func (m *machine) call(fn *ir.Func, args []val) (val, error) {
	if !backend.Defined(fn) {
		return m.external(fn, args)
	}
	if m.frames >= maxFrames {
		return val{}, fmt.Errorf("jit: call depth exceeded in @%s", fn.Name())
	}
	m.frames++
	defer func() { m.frames-- }()

	f := &frame{
		fn:     fn,
		args:   make(map[*ir.Param]val, len(args)),
		values: make(map[value.Value]val),
	}
	for i, p := range fn.Params {
		f.args[p] = args[i]
	}

	var prev *ir.Block
	f.block = fn.Blocks[0]
	for {
		if err := m.step(); err != nil {
			return val{}, err
		}
		next, ret, done, err := m.execBlock(f, prev)
		if err != nil {
			var fault *Fault
			if !errors.As(err, &fault) && !errors.Is(err, ErrStepLimit) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				err = &Fault{Func: fn.Name(), Block: f.block.Name(), Msg: err.Error()}
			}
			return val{}, err
		}
		if done {
			return ret, nil
		}
		prev, f.block = f.block, next
	}
}

// step enforces the step limit and polls for cancellation every 4096 blocks
func (m *machine) step() error {
	m.steps++
	if m.limit > 0 && m.steps > m.limit {
		return ErrStepLimit
	}
	if m.steps&4095 == 0 {
		return m.ctx.Err()
	}
	return nil
}

func (m *machine) execBlock(f *frame, prev *ir.Block) (next *ir.Block, ret val, done bool, err error) {
	b := f.block

	// Phis read their inputs simultaneously on block entry
	var phiVals []val
	var phiInsts []*ir.InstPhi
	for _, inst := range b.Insts {
		phi, ok := inst.(*ir.InstPhi)
		if !ok {
			break
		}
		x, err := m.incoming(f, phi, prev)
		if err != nil {
			return nil, val{}, false, err
		}
		phiInsts = append(phiInsts, phi)
		phiVals = append(phiVals, x)
	}
	for i, phi := range phiInsts {
		f.values[phi] = phiVals[i]
	}

	for _, inst := range b.Insts[len(phiInsts):] {
		if err := m.exec(f, inst); err != nil {
			return nil, val{}, false, err
		}
	}

	switch term := b.Term.(type) {
	case *ir.TermRet:
		if term.X == nil {
			return nil, val{}, true, nil
		}
		x, err := m.operand(f, term.X)
		return nil, x, true, err
	case *ir.TermBr:
		return term.Succs()[0], val{}, false, nil
	case *ir.TermCondBr:
		c, err := m.operand(f, term.Cond)
		if err != nil {
			return nil, val{}, false, err
		}
		succs := term.Succs()
		if c.n&1 != 0 {
			return succs[0], val{}, false, nil
		}
		return succs[1], val{}, false, nil
	case nil:
		return nil, val{}, false, errors.New("block has no terminator")
	default:
		return nil, val{}, false, fmt.Errorf("unsupported terminator %T", term)
	}
}

func (m *machine) incoming(f *frame, phi *ir.InstPhi, prev *ir.Block) (val, error) {
	for _, inc := range phi.Incs {
		if prev != nil && inc.Pred == value.Value(prev) {
			return m.operand(f, inc.X)
		}
	}
	return val{}, errors.New("phi has no incoming value for the predecessor")
}

func (m *machine) exec(f *frame, inst ir.Instruction) error {
	var (
		res val
		err error
	)
	switch inst := inst.(type) {
	case *ir.InstAlloca:
		res = val{obj: alloca(inst.ElemType)}

	case *ir.InstLoad:
		var p val
		if p, err = m.pointer(f, inst.Src); err == nil {
			res, err = p.obj.load(inst.ElemType, p.off)
		}

	case *ir.InstStore:
		var x, p val
		if x, err = m.operand(f, inst.Src); err != nil {
			return err
		}
		if p, err = m.pointer(f, inst.Dst); err != nil {
			return err
		}
		return p.obj.store(x, p.off)

	case *ir.InstAdd:
		res, err = m.binary(f, inst.X, inst.Y, inst.Type(), func(x, y uint64) (uint64, error) { return x + y, nil })

	case *ir.InstUDiv:
		res, err = m.binary(f, inst.X, inst.Y, inst.Type(), func(x, y uint64) (uint64, error) {
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x / y, nil
		})

	case *ir.InstURem:
		res, err = m.binary(f, inst.X, inst.Y, inst.Type(), func(x, y uint64) (uint64, error) {
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x % y, nil
		})

	case *ir.InstTrunc:
		res, err = m.operand(f, inst.From)
		res.n &= mask(bitSize(inst.To))

	case *ir.InstZExt:
		res, err = m.operand(f, inst.From)

	case *ir.InstSExt:
		res, err = m.operand(f, inst.From)
		res.n = uint64(signExtend(res.n, bitSize(inst.From.Type()))) & mask(bitSize(inst.To))

	case *ir.InstICmp:
		res, err = m.compare(f, inst)

	case *ir.InstGetElementPtr:
		res, err = m.gep(f, inst)

	case *ir.InstCall:
		res, err = m.callInst(f, inst)

	default:
		return fmt.Errorf("unsupported instruction %T", inst)
	}
	if err != nil {
		return err
	}
	if v, ok := inst.(value.Value); ok {
		f.values[v] = res
	}
	return nil
}

func (m *machine) operand(f *frame, v value.Value) (val, error) {
	switch v := v.(type) {
	case *constant.Int:
		return val{n: uint64(v.X.Int64()) & mask(bitSize(v.Typ))}, nil
	case *constant.Null:
		return val{}, nil
	case *ir.Param:
		x, ok := f.args[v]
		if !ok {
			return val{}, fmt.Errorf("unknown parameter %s", v.Ident())
		}
		return x, nil
	}
	x, ok := f.values[v]
	if !ok {
		return val{}, fmt.Errorf("use of %s before definition", v.Ident())
	}
	return x, nil
}

func (m *machine) pointer(f *frame, v value.Value) (val, error) {
	p, err := m.operand(f, v)
	if err != nil {
		return val{}, err
	}
	if p.obj == nil {
		return val{}, errors.New("null pointer dereference")
	}
	return p, nil
}

func (m *machine) binary(f *frame, xv, yv value.Value, t types.Type, op func(x, y uint64) (uint64, error)) (val, error) {
	x, err := m.operand(f, xv)
	if err != nil {
		return val{}, err
	}
	y, err := m.operand(f, yv)
	if err != nil {
		return val{}, err
	}
	n, err := op(x.n, y.n)
	if err != nil {
		return val{}, err
	}
	return val{n: n & mask(bitSize(t))}, nil
}

func (m *machine) compare(f *frame, inst *ir.InstICmp) (val, error) {
	x, err := m.operand(f, inst.X)
	if err != nil {
		return val{}, err
	}
	y, err := m.operand(f, inst.Y)
	if err != nil {
		return val{}, err
	}
	bits := bitSize(inst.X.Type())
	sx, sy := signExtend(x.n, bits), signExtend(y.n, bits)
	var r bool
	switch inst.Pred {
	case enum.IPredEQ:
		r = x == y
	case enum.IPredNE:
		r = x != y
	case enum.IPredULT:
		r = x.n < y.n
	case enum.IPredULE:
		r = x.n <= y.n
	case enum.IPredUGT:
		r = x.n > y.n
	case enum.IPredUGE:
		r = x.n >= y.n
	case enum.IPredSLT:
		r = sx < sy
	case enum.IPredSLE:
		r = sx <= sy
	case enum.IPredSGT:
		r = sx > sy
	case enum.IPredSGE:
		r = sx >= sy
	default:
		return val{}, fmt.Errorf("unsupported comparison %s", inst.Pred)
	}
	if r {
		return val{n: 1}, nil
	}
	return val{}, nil
}

func (m *machine) gep(f *frame, inst *ir.InstGetElementPtr) (val, error) {
	if len(inst.Indices) != 1 {
		return val{}, fmt.Errorf("getelementptr with %d indices", len(inst.Indices))
	}
	size := bitSize(inst.ElemType) / 8
	if size == 0 {
		return val{}, fmt.Errorf("getelementptr over %s", inst.ElemType)
	}
	p, err := m.operand(f, inst.Src)
	if err != nil {
		return val{}, err
	}
	idx, err := m.operand(f, inst.Indices[0])
	if err != nil {
		return val{}, err
	}
	p.off += signExtend(idx.n, bitSize(inst.Indices[0].Type())) * int64(size)
	return p, nil
}

func (m *machine) callInst(f *frame, inst *ir.InstCall) (val, error) {
	callee, ok := inst.Callee.(*ir.Func)
	if !ok {
		return val{}, fmt.Errorf("indirect call through %s", inst.Callee.Ident())
	}
	args := make([]val, len(inst.Args))
	for i, a := range inst.Args {
		x, err := m.operand(f, a)
		if err != nil {
			return val{}, err
		}
		args[i] = x
	}
	if len(args) != len(callee.Params) {
		return val{}, fmt.Errorf("call to @%s with %d arguments, want %d", callee.Name(), len(args), len(callee.Params))
	}
	return m.call(callee, args)
}

// external implements the C runtime functions the generator declares
func (m *machine) external(fn *ir.Func, args []val) (val, error) {
	switch fn.Name() {
	case "malloc":
		obj, err := m.heap.malloc(args[0].n)
		if err != nil {
			// malloc returns NULL on failure
			glog.Warningf("jit: %v", err)
			return val{}, nil
		}
		return val{obj: obj}, nil
	case "free":
		if args[0].obj != nil && args[0].off != 0 {
			return val{}, errors.New("free of an interior pointer")
		}
		return val{}, m.heap.free(args[0].obj)
	case "getchar":
		c, err := m.in.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return val{n: mask(32)}, nil // EOF is -1
			}
			return val{}, err
		}
		return val{n: uint64(c)}, nil
	case "putchar":
		if err := m.out.WriteByte(byte(args[0].n)); err != nil {
			return val{}, err
		}
		return val{n: args[0].n & 0xff}, nil
	}
	return val{}, fmt.Errorf("call to unknown external function @%s", fn.Name())
}

func bitSize(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.IntType:
		return t.BitSize
	case *types.PointerType:
		return 64
	}
	return 0
}

func mask(bits uint64) uint64 {
	if bits >= 64 || bits == 0 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}

func signExtend(n, bits uint64) int64 {
	if bits == 0 || bits >= 64 {
		return int64(n)
	}
	shift := 64 - bits
	return int64(n<<shift) >> shift
}
