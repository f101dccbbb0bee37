// Completion: 100% - Utility module complete
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// cli.go - Command-line interface for bfc
//
// Subcommands:
// - bfc build <file> (compile to an executable)
// - bfc obj <file> (compile to an object file)
// - bfc run <file> (execute in-process, the exit code is the program's result)
// - bfc ir <file> (print LLVM IR)
// - bfc tokens <file> (print the canonical instruction listing)
// - bfc watch <file> (rebuild on every change)
// - bfc config (print the effective settings)
// - bfc <file.bf> (shorthand for build)
//
// A file name of "-" reads the program from stdin.

// CommandContext holds the execution context for a CLI command
type CommandContext struct {
	Config Config
	Fs     afero.Fs
	Color  bool
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	mu     sync.Mutex
	file   string // source of the last compilation, for diagnostics
	source string
}

// exitError carries a program's exit code out of "bfc run"
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// ExitCode maps an error returned by a command to the process exit code
func ExitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	default:
		return 1
	}
}

func (cc *CommandContext) readSource(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cc.Stdin)
	}
	src, err := afero.ReadFile(cc.Fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ConfigError(fmt.Sprintf("file not found: %s", path), "")
		}
		return nil, err
	}
	return src, nil
}

func (cc *CommandContext) pipeline() *Pipeline {
	p := NewPipeline(cc.Config, cc.Fs)
	p.Stdin = cc.Stdin
	p.Stdout = cc.Stdout
	return p
}

// compile runs path through a fresh pipeline up to stage
func (cc *CommandContext) compile(ctx context.Context, p *Pipeline, path string, stage Stage, out string) (*Result, error) {
	src, err := cc.readSource(path)
	if err != nil {
		return nil, err
	}
	cc.mu.Lock()
	cc.file, cc.source = path, string(src)
	cc.mu.Unlock()

	name := path
	if path == "-" {
		name = "stdin.bf"
	}
	glog.V(1).Infof("compiling %s to %s", path, stage)
	return p.Compile(ctx, name, src, stage, out)
}

// Report prints err as compiler diagnostics
func (cc *CommandContext) Report(err error) {
	cc.mu.Lock()
	file, source := cc.file, cc.source
	cc.mu.Unlock()

	ec := NewErrorCollector(source)
	ec.Classify(err, file)
	fmt.Fprint(cc.Stderr, ec.Report(cc.Color))
}

// cmdBuild compiles a source file to an executable or an object file
func cmdBuild(ctx context.Context, cc *CommandContext, path, out string, stage Stage) error {
	res, err := cc.compile(ctx, cc.pipeline(), path, stage, out)
	if err != nil {
		return err
	}
	glog.V(1).Infof("built %s", res.Output)
	return nil
}

// cmdRun executes a source file in-process and returns its result as the exit code
func cmdRun(ctx context.Context, cc *CommandContext, path string) error {
	res, err := cc.compile(ctx, cc.pipeline(), path, StageJIT, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &exitError{code: res.ExitCode}
	}
	return nil
}

// cmdWatch rebuilds path whenever it changes until ctx is cancelled.
// Compilation errors are reported and watching continues.
func cmdWatch(ctx context.Context, cc *CommandContext, path, out string, stage Stage) error {
	if path == "-" {
		return ConfigError("cannot watch stdin", "pass a file name")
	}
	var mu sync.Mutex
	rebuild := func() {
		mu.Lock()
		defer mu.Unlock()

		p := cc.pipeline()
		p.Stdin = nil
		res, err := cc.compile(ctx, p, path, stage, out)
		switch {
		case err != nil:
			cc.Report(err)
		case stage == StageJIT:
			fmt.Fprintf(cc.Stderr, "%s: exit status %d\n", path, res.ExitCode)
		case res.Output != "":
			fmt.Fprintf(cc.Stderr, "%s: built %s\n", path, res.Output)
		}
	}

	fw, err := NewFileWatcher(func(string) { rebuild() })
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.AddFile(path); err != nil {
		return err
	}

	rebuild()
	fmt.Fprintf(cc.Stderr, "watching %s (%s), press Ctrl+C to stop\n", path, stage)
	if err := fw.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newBuildCmd(cc *CommandContext) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "build <file>",
		Short: "Compile a program to a native executable",
		Long: "Compile a program to a native executable.\n\n" +
			"The IR is compiled with llc and linked with the C compiler driver; set\n" +
			EnvLLC + " and " + EnvCC + " (or llc/cc in the config file) to use other tools.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdBuild(cmd.Context(), cc, args[0], out, StageExecutable)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default: source name without extension)")
	return cmd
}

func newObjCmd(cc *CommandContext) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "obj <file>",
		Short: "Compile a program to a native object file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdBuild(cmd.Context(), cc, args[0], out, StageObject)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default: source name with .o)")
	return cmd
}

func newRunCmd(cc *CommandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a program without producing native code",
		Long: "Execute a program in-process.\n\n" +
			"The program reads stdin and writes stdout; bfc exits with the value of the\n" +
			"current cell when the program ends, or 255 when --overflow=abort stops it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdRun(cmd.Context(), cc, args[0])
		},
	}
}

func newIRCmd(cc *CommandContext) *cobra.Command {
	var optimized bool
	cmd := &cobra.Command{
		Use:   "ir <file>",
		Short: "Print the generated LLVM IR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := StageIR
			if optimized {
				stage = StageOptimizedIR
			}
			_, err := cc.compile(cmd.Context(), cc.pipeline(), args[0], stage, "")
			return err
		},
	}
	cmd.Flags().BoolVar(&optimized, "optimized", false, "print the IR after the backend passes")
	return cmd
}

func newTokensCmd(cc *CommandContext) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "tokens <file>",
		Short: "Print the canonical instruction listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cc.pipeline()
			p.RawTokens = raw
			_, err := cc.compile(cmd.Context(), p, args[0], StageTokens, "")
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "list the source without peephole optimization")
	return cmd
}

func newWatchCmd(cc *CommandContext) *cobra.Command {
	var out, stageName string
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Rebuild a program every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := ParseStage(stageName)
			if err != nil {
				return ConfigError(err.Error(), "stages: "+strings.Join(stageNames, ", "))
			}
			return cmdWatch(cmd.Context(), cc, args[0], out, stage)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file for the object and executable stages")
	cmd.Flags().StringVar(&stageName, "stage", StageExecutable.String(), "what to produce: "+strings.Join(stageNames, ", "))
	return cmd
}

func newConfigCmd(cc *CommandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.Config.Dump(cc.Stdout)
		},
	}
}

func newVersionCmd(cc *CommandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cc.Stdout, versionString)
		},
	}
}

// isSourceArg reports whether arg looks like a program for the "bfc <file>" shorthand
func isSourceArg(fs afero.Fs, arg string) bool {
	switch strings.ToLower(filepath.Ext(arg)) {
	case ".bf", ".b":
		return true
	}
	info, err := fs.Stat(arg)
	return err == nil && !info.IsDir()
}
