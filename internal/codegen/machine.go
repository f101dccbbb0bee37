// Completion: 100% - Machine configuration complete
package codegen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xyproto/bfc/internal/engine"
)

// OverflowPolicy decides what happens when the tape index leaves [0, capacity)
type OverflowPolicy int

const (
	// Undefined emits no check, an out-of-range access is undefined behaviour
	Undefined OverflowPolicy = iota
	// Wrap reduces the index modulo the capacity after every move
	Wrap
	// Abort checks the index after every move and exits with AbortExitCode
	Abort
)

// AbortExitCode is returned by the generated program after an out-of-range move
const AbortExitCode = -1

// DefaultCapacity is the default number of tape cells
const DefaultCapacity = 4096

var policyNames = []string{"undefined", "wrap", "abort"}

func (p OverflowPolicy) String() string {
	if p >= 0 && int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

// ParseOverflowPolicy parses "undefined", "wrap" or "abort" (case-insensitive)
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range policyNames {
		if n == name {
			return OverflowPolicy(i), nil
		}
	}
	msg := fmt.Sprintf("unknown overflow policy %q (want %s)", s, strings.Join(policyNames, ", "))
	if suggestions := engine.Suggest(name, policyNames); len(suggestions) > 0 {
		msg += fmt.Sprintf("; did you mean %q?", suggestions[0])
	}
	return Undefined, errors.New(msg)
}

// Set implements pflag.Value
func (p *OverflowPolicy) Set(s string) error {
	parsed, err := ParseOverflowPolicy(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Type implements pflag.Value
func (p *OverflowPolicy) Type() string {
	return "policy"
}

// MarshalText implements encoding.TextMarshaler
func (p OverflowPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the YAML config
func (p *OverflowPolicy) UnmarshalText(text []byte) error {
	return p.Set(string(text))
}

// Machine describes the tape the generated program runs on
type Machine struct {
	Capacity uint64         // number of 8-bit cells
	Overflow OverflowPolicy // response to an out-of-range pointer move
	Debug    bool           // interleave DebugLog instructions and emit the trace routine
}

// DefaultMachine returns 4096 cells, no bounds checks and no debug trace
func DefaultMachine() Machine {
	return Machine{Capacity: DefaultCapacity, Overflow: Undefined}
}

// Validate rejects machines that cannot be generated
func (m Machine) Validate() error {
	if m.Capacity == 0 {
		return errors.New("memory capacity must be positive")
	}
	if m.Capacity > 1<<62 {
		return fmt.Errorf("memory capacity %d is too large", m.Capacity)
	}
	if m.Overflow < Undefined || m.Overflow > Abort {
		return fmt.Errorf("invalid overflow policy %d", int(m.Overflow))
	}
	return nil
}

func (m Machine) String() string {
	return fmt.Sprintf("%d cells, overflow=%s, debug=%t", m.Capacity, m.Overflow, m.Debug)
}
