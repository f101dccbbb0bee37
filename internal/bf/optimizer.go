// Completion: 100% - Peephole optimization implemented and working
package bf

import "github.com/golang/glog"

// optimizer.go - Online peephole optimizer
//
// Instructions are pushed one at a time. Each push is matched against the
// tail of the output list and rewritten until no rule fires, so the output
// is always canonical:
//
//   x, AddValue(0)                  => x
//   AddValue(a), AddValue(b)        => AddValue(a+b)
//   SetValue(a), AddValue(b)        => SetValue(a+b)
//   SetValue(_)|AddValue(_), Set(c) => SetValue(c)
//   AddPointer(a), AddPointer(b)    => AddPointer(a+b)
//   BeginLoop, AddValue(odd), End   => SetValue(0)
//   EndLoop, AddValue(v)            => EndLoop, SetValue(v)
//   EndLoop, SetValue(0)            => EndLoop
//   SetValue(0)|EndLoop, BeginLoop  => suppress the whole loop

// Optimizer holds the canonical output built so far.
// The zero value is ready to use.
type Optimizer struct {
	list     []Instruction
	suppress int // nesting depth inside a dead loop, 0 when emitting
}

// Push appends in to the output and rewrites the tail to fixpoint
func (o *Optimizer) Push(in Instruction) {
	// A rewrite can produce a new instruction that has to be pushed again.
	// Every rule shrinks the list or turns an Add into a Set, so this terminates.
	pending := []Instruction{in}
	for len(pending) > 0 {
		in = pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if next, again := o.step(in); again {
			pending = append(pending, next)
		}
	}
}

// step applies at most one rule for in.
// It returns the instruction to push next when the rule produced one.
func (o *Optimizer) step(in Instruction) (Instruction, bool) {
	if o.suppress != 0 {
		switch in.Kind {
		case BeginLoop:
			o.suppress++
		case EndLoop:
			o.suppress--
		}
		return Instruction{}, false
	}

	if in.Kind == AddValue && in.Value == 0 {
		return Instruction{}, false
	}

	last, ok := o.last()
	if !ok {
		o.list = append(o.list, in)
		return Instruction{}, false
	}

	switch {
	case last.Kind == AddValue && in.Kind == AddValue:
		o.pop()
		return Add(last.Value + in.Value), true

	case last.Kind == SetValue && in.Kind == AddValue:
		o.pop()
		return Set(last.Value + in.Value), true

	case (last.Kind == SetValue || last.Kind == AddValue) && in.Kind == SetValue:
		o.pop()
		return in, true

	case last.Kind == AddPointer && in.Kind == AddPointer:
		o.pop()
		return Move(last.Offset + in.Offset), true

	// Parity, not magnitude: [+++] is treated like [+] here.
	case last.Kind == AddValue && in.Kind == EndLoop && last.Value%2 != 0 && len(o.list) >= 2 && o.beforeLast().Kind == BeginLoop:
		o.pop()
		o.pop()
		return Set(0), true

	// The cell is zero right after a loop, so an add is a set.
	case last.Kind == EndLoop && in.Kind == AddValue:
		return Set(in.Value), true

	case last.Kind == EndLoop && in.Kind == SetValue && in.Value == 0:
		return Instruction{}, false

	// The guard cell is known to be zero, the loop body can never run.
	case ((last.Kind == SetValue && last.Value == 0) || last.Kind == EndLoop) && in.Kind == BeginLoop:
		o.suppress = 1
		if glog.V(6) {
			glog.Infof("optimizer: eliding dead loop after %s at output %d", last, len(o.list)-1)
		}
		return Instruction{}, false
	}

	o.list = append(o.list, in)
	return Instruction{}, false
}

func (o *Optimizer) last() (Instruction, bool) {
	if len(o.list) == 0 {
		return Instruction{}, false
	}
	return o.list[len(o.list)-1], true
}

// beforeLast returns the second-to-last entry, or the zero Instruction
func (o *Optimizer) beforeLast() Instruction {
	if len(o.list) < 2 {
		return Instruction{}
	}
	return o.list[len(o.list)-2]
}

func (o *Optimizer) pop() {
	o.list = o.list[:len(o.list)-1]
}

// Suppressing reports whether the optimizer is inside a dead loop body
func (o *Optimizer) Suppressing() bool {
	return o.suppress != 0
}

// Result returns the canonical sequence built so far
func (o *Optimizer) Result() Program {
	out := make(Program, len(o.list))
	copy(out, o.list)
	return out
}

// Optimize runs every instruction of p through a fresh Optimizer
func Optimize(p Program) Program {
	var o Optimizer
	for _, in := range p {
		o.Push(in)
	}
	return o.Result()
}
