// Completion: 100% - Object emission and linking through the system toolchain
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
)

// emit.go - Lowering a unit to native code
//
// The IR is handed to llc as textual LLVM assembly and the resulting object
// is linked with the C compiler driver, the same way clang-based front ends
// shell out to the system toolchain.

// ErrNoTargetTriple is returned when a unit is emitted without a target
var ErrNoTargetTriple = errors.New("no target triple set on the module")

// ToolError is a failed external tool invocation.
// Stderr holds the tool's own diagnostics verbatim.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", filepath.Base(e.Tool), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Toolchain holds the paths of the external programs used for native output
type Toolchain struct {
	LLC string // IR to object compiler
	CC  string // C compiler driver used as linker
}

// DefaultToolchain uses llc and cc from PATH
func DefaultToolchain() Toolchain {
	return Toolchain{LLC: "llc", CC: "cc"}
}

// Resolve looks up both tools in PATH and returns a toolchain with absolute paths
func (t Toolchain) Resolve() (Toolchain, error) {
	llc, err := exec.LookPath(t.LLC)
	if err != nil {
		return t, fmt.Errorf("cannot find IR compiler %q: %w", t.LLC, err)
	}
	cc, err := exec.LookPath(t.CC)
	if err != nil {
		return t, fmt.Errorf("cannot find linker %q: %w", t.CC, err)
	}
	return Toolchain{LLC: llc, CC: cc}, nil
}

// EmitObject compiles u to a native object file at path
func (t Toolchain) EmitObject(ctx context.Context, u *Unit, path string) error {
	triple := u.TargetTriple()
	if triple == "" {
		return ErrNoTargetTriple
	}

	ll, err := os.CreateTemp("", "bfc-*.ll")
	if err != nil {
		return err
	}
	defer os.Remove(ll.Name())
	if _, err := u.WriteTo(ll); err != nil {
		ll.Close()
		return err
	}
	if err := ll.Close(); err != nil {
		return err
	}

	return t.run(ctx, t.LLC, "-filetype=obj", "-mtriple="+triple, "-o", path, ll.Name())
}

// Link links object files into an executable at out
func (t Toolchain) Link(ctx context.Context, out string, objects ...string) error {
	args := append([]string{"-o", out}, objects...)
	return t.run(ctx, t.CC, args...)
}

func (t Toolchain) run(ctx context.Context, tool string, args ...string) error {
	if glog.V(3) {
		glog.Infof("backend: running %s %s", tool, strings.Join(args, " "))
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &ToolError{Tool: tool, Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}
