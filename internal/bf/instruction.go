// Completion: 100% - Instruction model complete
package bf

import (
	"fmt"
	"strings"
)

// Kind identifies one of the eight instruction variants
type Kind uint8

const (
	SetValue Kind = iota
	AddValue
	AddPointer
	Input
	Output
	BeginLoop
	EndLoop
	DebugLog
)

func (k Kind) String() string {
	switch k {
	case SetValue:
		return "SetValue"
	case AddValue:
		return "AddValue"
	case AddPointer:
		return "AddPointer"
	case Input:
		return "Input"
	case Output:
		return "Output"
	case BeginLoop:
		return "BeginLoop"
	case EndLoop:
		return "EndLoop"
	case DebugLog:
		return "DebugLog"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Instruction is a single tape operation.
// Value is the payload of SetValue and AddValue, Offset the payload of AddPointer.
// The other kinds carry no payload and keep both fields zero.
type Instruction struct {
	Kind   Kind
	Value  int8
	Offset int64
}

var (
	InputInsn     = Instruction{Kind: Input}
	OutputInsn    = Instruction{Kind: Output}
	BeginLoopInsn = Instruction{Kind: BeginLoop}
	EndLoopInsn   = Instruction{Kind: EndLoop}
	DebugLogInsn  = Instruction{Kind: DebugLog}
)

// Set returns SetValue(v)
func Set(v int8) Instruction {
	return Instruction{Kind: SetValue, Value: v}
}

// Add returns AddValue(v)
func Add(v int8) Instruction {
	return Instruction{Kind: AddValue, Value: v}
}

// Move returns AddPointer(v)
func Move(v int64) Instruction {
	return Instruction{Kind: AddPointer, Offset: v}
}

func (in Instruction) String() string {
	switch in.Kind {
	case SetValue, AddValue:
		return fmt.Sprintf("%s(%d)", in.Kind, in.Value)
	case AddPointer:
		return fmt.Sprintf("%s(%d)", in.Kind, in.Offset)
	default:
		return in.Kind.String()
	}
}

// Program is an ordered instruction sequence
type Program []Instruction

// String renders the program as one instruction per line (the canonical listing)
func (p Program) String() string {
	var sb strings.Builder
	for _, in := range p {
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Count returns how many instructions of the given kind the program contains
func (p Program) Count(k Kind) int {
	n := 0
	for _, in := range p {
		if in.Kind == k {
			n++
		}
	}
	return n
}

// LoopError reports a loop delimiter without a partner
type LoopError struct {
	Index    int      // position of the offending instruction in the program
	Pos      Position // source position, zero when the program was not lexed from source
	Unclosed bool     // true for a BeginLoop that is never closed
}

func (e *LoopError) Error() string {
	what := "']'"
	if e.Unclosed {
		what = "'['"
	}
	if e.Pos.Line > 0 {
		return fmt.Sprintf("%s: unmatched loop delimiter %s", e.Pos, what)
	}
	return fmt.Sprintf("unmatched loop delimiter %s at instruction %d", what, e.Index)
}

// Balance checks that every BeginLoop has a matching EndLoop.
// It returns a *LoopError for the first EndLoop without an opener, or for the
// innermost BeginLoop left open at the end of the program.
func Balance(p Program) error {
	var open []int
	for i, in := range p {
		switch in.Kind {
		case BeginLoop:
			open = append(open, i)
		case EndLoop:
			if len(open) == 0 {
				return &LoopError{Index: i}
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		return &LoopError{Index: open[len(open)-1], Unclosed: true}
	}
	return nil
}
