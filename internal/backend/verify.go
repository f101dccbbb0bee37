package backend

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Verify checks the structural well-formedness of every defined function
// and returns all problems found as a *multierror.Error.
func Verify(u *Unit) error {
	var result *multierror.Error
	if u.Entry == nil {
		result = multierror.Append(result, fmt.Errorf("unit %s has no entry function", u.Name))
	} else if !Defined(u.Entry) {
		result = multierror.Append(result, fmt.Errorf("entry function @%s has no body", u.Entry.Name()))
	}
	for _, f := range u.Module.Funcs {
		if Defined(f) {
			result = multierror.Append(result, verifyFunc(f)...)
		}
	}
	return result.ErrorOrNil()
}

func verifyFunc(f *ir.Func) []error {
	var errs []error
	fail := func(b *ir.Block, format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		if b != nil {
			msg = fmt.Sprintf("@%s: block %%%s: %s", f.Name(), b.Name(), msg)
		} else {
			msg = fmt.Sprintf("@%s: %s", f.Name(), msg)
		}
		errs = append(errs, fmt.Errorf("%s", msg))
	}

	owned := make(map[*ir.Block]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		owned[b] = true
	}

	// Terminators first, the predecessor map depends on them
	for _, b := range f.Blocks {
		if b.Term == nil {
			fail(b, "missing terminator")
			continue
		}
		for _, succ := range b.Term.Succs() {
			if !owned[succ] {
				fail(b, "branch to block %%%s outside the function", succ.Name())
			}
		}
		if ret, ok := b.Term.(*ir.TermRet); ok {
			verifyReturn(f, b, ret, fail)
		}
	}
	if len(errs) > 0 {
		return errs
	}

	preds := Predecessors(f)
	if len(preds[f.Blocks[0]]) > 0 {
		fail(f.Blocks[0], "entry block has predecessors")
	}

	for _, b := range f.Blocks {
		inPhis := true
		for _, inst := range b.Insts {
			phi, isPhi := inst.(*ir.InstPhi)
			if !isPhi {
				inPhis = false
				if call, ok := inst.(*ir.InstCall); ok {
					verifyCall(b, call, fail)
				}
				continue
			}
			if !inPhis {
				fail(b, "phi after a non-phi instruction")
			}
			verifyPhi(b, phi, preds[b], fail)
		}
	}
	return errs
}

func verifyReturn(f *ir.Func, b *ir.Block, ret *ir.TermRet, fail func(*ir.Block, string, ...interface{})) {
	want := f.Sig.RetType
	switch {
	case want.Equal(types.Void) && ret.X != nil:
		fail(b, "void function returns a value")
	case !want.Equal(types.Void) && ret.X == nil:
		fail(b, "missing return value of type %s", want)
	case ret.X != nil && !ret.X.Type().Equal(want):
		fail(b, "returns %s, want %s", ret.X.Type(), want)
	}
}

func verifyCall(b *ir.Block, call *ir.InstCall, fail func(*ir.Block, string, ...interface{})) {
	callee, ok := call.Callee.(*ir.Func)
	if !ok {
		return
	}
	if got, want := len(call.Args), len(callee.Sig.Params); got != want && !callee.Sig.Variadic {
		fail(b, "call to @%s with %d arguments, want %d", callee.Name(), got, want)
	}
}

func verifyPhi(b *ir.Block, phi *ir.InstPhi, preds []*ir.Block, fail func(*ir.Block, string, ...interface{})) {
	if len(phi.Incs) != len(preds) {
		fail(b, "phi has %d incoming values for %d predecessors", len(phi.Incs), len(preds))
	}
	for _, inc := range phi.Incs {
		found := false
		for _, p := range preds {
			if inc.Pred == value.Value(p) {
				found = true
				break
			}
		}
		if !found {
			fail(b, "phi incoming block %s is not a predecessor", inc.Pred.Ident())
		}
	}
}

// Predecessors maps every block of f to the distinct blocks that branch to it
func Predecessors(f *ir.Func) map[*ir.Block][]*ir.Block {
	preds := make(map[*ir.Block][]*ir.Block, len(f.Blocks))
	for _, b := range f.Blocks {
		if b.Term == nil {
			continue
		}
		seen := make(map[*ir.Block]bool, 2)
		for _, succ := range b.Term.Succs() {
			if seen[succ] {
				continue
			}
			seen[succ] = true
			preds[succ] = append(preds[succ], b)
		}
	}
	return preds
}
