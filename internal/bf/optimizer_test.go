package bf

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOptimizeNoChange(t *testing.T) {
	for _, p := range []Program{
		{Set(5)},
		{Add(5)},
		{Move(3)},
		{InputInsn},
		{OutputInsn},
		{BeginLoopInsn},
		{EndLoopInsn},
		{Move(0)},
		{BeginLoopInsn, Add(2), EndLoopInsn},
		{BeginLoopInsn, Move(1), EndLoopInsn},
	} {
		require.Equal(t, p, Optimize(p), "input %v", p)
	}
}

func TestOptimizeRules(t *testing.T) {
	tests := []struct {
		name string
		in   Program
		want Program
	}{
		{"drop zero add", Program{Add(0)}, Program{}},
		{"drop zero add after output", Program{OutputInsn, Add(0)}, Program{OutputInsn}},
		{"merge adds", Program{Add(5), Add(3)}, Program{Add(8)}},
		{"merge adds to zero", Program{Add(5), Add(-5)}, Program{}},
		{"merge adds wraps", Program{Add(127), Add(1)}, Program{Add(-128)}},
		{"set then add", Program{Set(5), Add(3)}, Program{Set(8)}},
		{"set then add wraps", Program{Set(-128), Add(-1)}, Program{Set(127)}},
		{"set then set", Program{Set(5), Set(3)}, Program{Set(3)}},
		{"add then set", Program{Add(5), Set(3)}, Program{Set(3)}},
		{"merge moves", Program{Move(4), Move(-7)}, Program{Move(-3)}},
		{"clear loop", Program{BeginLoopInsn, Add(-1), EndLoopInsn}, Program{Set(0)}},
		{"clear loop odd magnitude", Program{BeginLoopInsn, Add(3), EndLoopInsn}, Program{Set(0)}},
		{"even loop kept", Program{BeginLoopInsn, Add(2), EndLoopInsn}, Program{BeginLoopInsn, Add(2), EndLoopInsn}},
		{"clear loop absorbs add", Program{Add(7), BeginLoopInsn, Add(1), EndLoopInsn}, Program{Set(0)}},
		{"add after loop", Program{EndLoopInsn, Add(5)}, Program{EndLoopInsn, Set(5)}},
		{"zero set after loop", Program{EndLoopInsn, Set(0)}, Program{EndLoopInsn}},
		{"set after loop kept", Program{EndLoopInsn, Set(4)}, Program{EndLoopInsn, Set(4)}},
		{"dead loop after zero", Program{Set(0), BeginLoopInsn}, Program{Set(0)}},
		{"dead loop after loop", Program{EndLoopInsn, BeginLoopInsn}, Program{EndLoopInsn}},
		{
			"dead loop body elided",
			Program{Set(0), BeginLoopInsn, Add(1), EndLoopInsn},
			Program{Set(0)},
		},
		{
			"dead nested loops elided",
			Program{Set(0), BeginLoopInsn, BeginLoopInsn, OutputInsn, EndLoopInsn, Move(2), EndLoopInsn, OutputInsn},
			Program{Set(0), OutputInsn},
		},
		{
			"adjacent loops",
			Program{BeginLoopInsn, Move(1), EndLoopInsn, BeginLoopInsn, Move(-1), EndLoopInsn, Add(2)},
			Program{BeginLoopInsn, Move(1), EndLoopInsn, Set(2)},
		},
		{
			"rewrite cascades",
			Program{Add(1), BeginLoopInsn, Add(1), Add(2), Add(-2), EndLoopInsn, Add(4)},
			Program{Set(4)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Optimize(tt.in))
		})
	}
}

func TestOptimizeSingleInstructionLoopNeedsBeginLoop(t *testing.T) {
	// The body is two instructions long, so the clear-loop rule must not fire
	in := Program{BeginLoopInsn, OutputInsn, Add(-1), EndLoopInsn}
	require.Equal(t, in, Optimize(in))
}

func TestOptimizeUnbalancedInput(t *testing.T) {
	require.Equal(t, Program{EndLoopInsn, EndLoopInsn}, Optimize(Program{EndLoopInsn, EndLoopInsn}))
	require.Equal(t, Program{BeginLoopInsn, OutputInsn}, Optimize(Program{BeginLoopInsn, OutputInsn}))

	// A dead loop that never closes swallows the rest of the program
	var o Optimizer
	for _, in := range (Program{Set(0), BeginLoopInsn, OutputInsn, InputInsn}) {
		o.Push(in)
	}
	require.True(t, o.Suppressing())
	require.Equal(t, Program{Set(0)}, o.Result())
}

func TestOptimizeHelloWorld(t *testing.T) {
	p, err := ParseString(helloWorld)
	require.NoError(t, err)
	require.Equal(t, Program{
		Add(10),
		BeginLoopInsn,
		Move(1), Add(7), Move(1), Add(10), Move(1), Add(3), Move(1), Add(1), Move(-4), Add(-1),
		EndLoopInsn,
	}, p[:13])
	require.Zero(t, p.Count(DebugLog))
	require.Equal(t, 13, p.Count(Output))
}

func genInstruction() *rapid.Generator[Instruction] {
	return rapid.Custom(func(t *rapid.T) Instruction {
		switch rapid.IntRange(0, 6).Draw(t, "kind") {
		case 0:
			return Set(rapid.Int8().Draw(t, "set"))
		case 1:
			return Add(rapid.Int8().Draw(t, "add"))
		case 2:
			return Move(rapid.Int64Range(-64, 64).Draw(t, "move"))
		case 3:
			return InputInsn
		case 4:
			return OutputInsn
		case 5:
			return BeginLoopInsn
		default:
			return EndLoopInsn
		}
	})
}

func TestOptimizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.SliceOf(genInstruction()).Draw(t, "program")
		once := Optimize(p)
		require.Equal(t, once, Optimize(once))
	})
}

func TestOptimizeNeverEmitsZeroAdd(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.SliceOf(genInstruction()).Draw(t, "program")
		for _, in := range Optimize(p) {
			if in.Kind == AddValue && in.Value == 0 {
				t.Fatalf("AddValue(0) in output of %v", p)
			}
		}
	})
}

func TestOptimizeNoAdjacentRewrites(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out := Optimize(rapid.SliceOf(genInstruction()).Draw(t, "program"))
		for i := 1; i < len(out); i++ {
			a, b := out[i-1], out[i]
			switch {
			case a.Kind == AddValue && b.Kind == AddValue,
				a.Kind == SetValue && b.Kind == AddValue,
				(a.Kind == SetValue || a.Kind == AddValue) && b.Kind == SetValue,
				a.Kind == AddPointer && b.Kind == AddPointer,
				a.Kind == EndLoop && b.Kind == AddValue,
				a.Kind == EndLoop && b == Set(0),
				a == Set(0) && b.Kind == BeginLoop,
				a.Kind == EndLoop && b.Kind == BeginLoop:
				t.Fatalf("rewritable pair %v, %v at %d", a, b, i)
			}
		}
	})
}

func TestOptimizeValuePairs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int8().Draw(t, "a")
		b := rapid.Int8().Draw(t, "b")
		sum := int8(int16(a) + int16(b))

		want := Program{Add(sum)}
		if sum == 0 {
			want = Program{}
		}
		require.Equal(t, want, Optimize(Program{Add(a), Add(b)}))
		require.Equal(t, Program{Set(sum)}, Optimize(Program{Set(a), Add(b)}))
		require.Equal(t, Program{Set(b)}, Optimize(Program{Set(a), Set(b)}))
		if a != 0 {
			require.Equal(t, Program{Set(b)}, Optimize(Program{Add(a), Set(b)}))
		}
	})
}

func TestOptimizePointerPairs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(-1<<40, 1<<40).Draw(t, "a")
		b := rapid.Int64Range(-1<<40, 1<<40).Draw(t, "b")
		require.Equal(t, Program{Move(a + b)}, Optimize(Program{Move(a), Move(b)}))
	})
}

const helloWorld = "++++++++++[>+++++++>++++++++++>+++>+<<<<-]>++.>+.+++++++..+++.>++.<<+++++++++++++++.>.+++.------.--------.>+.>."
