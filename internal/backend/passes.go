package backend

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
)

// passes.go - Control-flow clean-up passes
//
// These are structural only (no data-flow analysis):
//   - fold conditional branches on constant conditions
//   - drop blocks that cannot be reached from the entry block
//   - merge a block into its only predecessor when that predecessor
//     ends in an unconditional branch to it
//
// Level 1 runs every pass once, level 2 and above repeat until nothing changes.

// MaxOptLevel is the highest accepted optimization level
const MaxOptLevel = 3

// Optimize runs the clean-up passes over every defined function of u
func Optimize(u *Unit, level int) error {
	if level < 0 || level > MaxOptLevel {
		return fmt.Errorf("invalid optimization level %d (want 0-%d)", level, MaxOptLevel)
	}
	if level == 0 {
		return nil
	}
	for _, f := range u.Module.Funcs {
		if !Defined(f) {
			continue
		}
		rounds := 0
		for {
			rounds++
			changed := foldConstantBranches(f)
			changed = removeUnreachable(f) || changed
			changed = mergeBlocks(f) || changed
			if !changed || level < 2 {
				break
			}
		}
		if glog.V(4) {
			glog.Infof("backend: @%s optimized at -O%d in %d round(s), %d blocks", f.Name(), level, rounds, len(f.Blocks))
		}
	}
	return nil
}

func foldConstantBranches(f *ir.Func) bool {
	changed := false
	for _, b := range f.Blocks {
		br, ok := b.Term.(*ir.TermCondBr)
		if !ok {
			continue
		}
		cond, ok := br.Cond.(*constant.Int)
		if !ok {
			continue
		}
		succs := br.Succs()
		taken, dropped := succs[0], succs[1]
		if cond.X.Sign() == 0 {
			taken, dropped = dropped, taken
		}
		if taken != dropped {
			removeIncoming(dropped, b)
		}
		b.Term = ir.NewBr(taken)
		changed = true
	}
	return changed
}

func removeUnreachable(f *ir.Func) bool {
	reached := map[*ir.Block]bool{f.Blocks[0]: true}
	work := []*ir.Block{f.Blocks[0]}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if b.Term == nil {
			continue
		}
		for _, succ := range b.Term.Succs() {
			if !reached[succ] {
				reached[succ] = true
				work = append(work, succ)
			}
		}
	}
	if len(reached) == len(f.Blocks) {
		return false
	}

	kept := f.Blocks[:0]
	var dead []*ir.Block
	for _, b := range f.Blocks {
		if reached[b] {
			kept = append(kept, b)
		} else {
			dead = append(dead, b)
		}
	}
	f.Blocks = kept
	for _, d := range dead {
		if d.Term == nil {
			continue
		}
		for _, succ := range d.Term.Succs() {
			if reached[succ] {
				removeIncoming(succ, d)
			}
		}
	}
	return true
}

func mergeBlocks(f *ir.Func) bool {
	changed := false
	for {
		preds := Predecessors(f)
		merged := false
		for _, b := range f.Blocks {
			br, ok := b.Term.(*ir.TermBr)
			if !ok {
				continue
			}
			next := br.Succs()[0]
			if next == b || next == f.Blocks[0] || len(preds[next]) != 1 || hasPhi(next) {
				continue
			}
			b.Insts = append(b.Insts, next.Insts...)
			b.Term = next.Term
			if next.Term != nil {
				for _, succ := range next.Term.Succs() {
					renameIncoming(succ, next, b)
				}
			}
			removeBlock(f, next)
			merged = true
			break
		}
		if !merged {
			return changed
		}
		changed = true
	}
}

func hasPhi(b *ir.Block) bool {
	if len(b.Insts) == 0 {
		return false
	}
	_, ok := b.Insts[0].(*ir.InstPhi)
	return ok
}

func phis(b *ir.Block) []*ir.InstPhi {
	var out []*ir.InstPhi
	for _, inst := range b.Insts {
		phi, ok := inst.(*ir.InstPhi)
		if !ok {
			break
		}
		out = append(out, phi)
	}
	return out
}

func removeIncoming(b, pred *ir.Block) {
	for _, phi := range phis(b) {
		incs := phi.Incs[:0]
		for _, inc := range phi.Incs {
			if inc.Pred != value.Value(pred) {
				incs = append(incs, inc)
			}
		}
		phi.Incs = incs
	}
}

func renameIncoming(b, from, to *ir.Block) {
	for _, phi := range phis(b) {
		for _, inc := range phi.Incs {
			if inc.Pred == value.Value(from) {
				inc.Pred = to
			}
		}
	}
}

func removeBlock(f *ir.Func, dead *ir.Block) {
	for i, b := range f.Blocks {
		if b == dead {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			return
		}
	}
}
