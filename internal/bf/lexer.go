// Completion: 100% - Lexer complete
package bf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// lexer.go - Character to instruction mapping
//
// Eight characters are significant; every other byte is a comment.

// Position is a 1-based line and column in the source
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Decode maps a source byte to its instruction.
// The second return value is false for comment characters.
func Decode(c byte) (Instruction, bool) {
	switch c {
	case '+':
		return Add(1), true
	case '-':
		return Add(-1), true
	case '>':
		return Move(1), true
	case '<':
		return Move(-1), true
	case ',':
		return InputInsn, true
	case '.':
		return OutputInsn, true
	case '[':
		return BeginLoopInsn, true
	case ']':
		return EndLoopInsn, true
	}
	return Instruction{}, false
}

// Lex reads r to the end and calls sink for every instruction in source order.
// Only read errors are returned.
func Lex(r io.Reader, sink func(Instruction, Position)) error {
	br := bufio.NewReader(r)
	pos := Position{Line: 1, Column: 0}
	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if c == '\n' {
			pos.Line++
			pos.Column = 0
			continue
		}
		pos.Column++
		if in, ok := Decode(c); ok {
			sink(in, pos)
		}
	}
}

// Parse lexes r into an Optimizer and returns the canonical program.
// Loop delimiters are checked against the raw source, so an unmatched
// '[' or ']' is reported with its position as a *LoopError.
func Parse(r io.Reader) (Program, error) {
	var (
		opt   Optimizer
		open  []rawLoop
		index int
		loose *LoopError
	)
	err := Lex(r, func(in Instruction, pos Position) {
		switch in.Kind {
		case BeginLoop:
			open = append(open, rawLoop{index, pos})
		case EndLoop:
			if len(open) == 0 {
				if loose == nil {
					loose = &LoopError{Index: index, Pos: pos}
				}
			} else {
				open = open[:len(open)-1]
			}
		}
		opt.Push(in)
		index++
	})
	if err != nil {
		return nil, err
	}
	if loose != nil {
		return nil, loose
	}
	if len(open) > 0 {
		last := open[len(open)-1]
		return nil, &LoopError{Index: last.index, Pos: last.pos, Unclosed: true}
	}
	return opt.Result(), nil
}

type rawLoop struct {
	index int
	pos   Position
}

// ParseString is Parse for in-memory source
func ParseString(src string) (Program, error) {
	return Parse(strings.NewReader(src))
}

// ParseRaw lexes src without optimizing and without checking loop balance
func ParseRaw(src string) Program {
	var p Program
	// a strings.Reader never fails
	_ = Lex(strings.NewReader(src), func(in Instruction, _ Position) {
		p = append(p, in)
	})
	return p
}
