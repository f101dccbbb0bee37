// compilation_pipeline.go - Output stages and the pipeline that produces them
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/afero"

	"github.com/xyproto/bfc/internal/backend"
	"github.com/xyproto/bfc/internal/bf"
	"github.com/xyproto/bfc/internal/codegen"
	"github.com/xyproto/bfc/internal/engine"
	"github.com/xyproto/bfc/internal/jit"
)

// Stage is the output a compilation stops at
type Stage int

const (
	StageTokens      Stage = iota // canonical instruction listing
	StageIR                       // LLVM IR as generated
	StageOptimizedIR              // LLVM IR after the backend passes
	StageObject                   // native object file
	StageExecutable               // linked executable
	StageJIT                      // executed in-process
)

var stageNames = []string{"tokens", "ir", "optimized-ir", "object", "executable", "jit"}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Unknown Stage %d", int(s))
}

// ParseStage parses a stage name as printed by Stage.String
func ParseStage(s string) (Stage, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	msg := fmt.Sprintf("unknown stage %q", s)
	if suggestions := engine.Suggest(name, stageNames); len(suggestions) > 0 {
		msg += fmt.Sprintf("; did you mean %q?", suggestions[0])
	}
	return StageTokens, fmt.Errorf("%s", msg)
}

// Phase is a step inside one compilation; phases only move forward
type Phase int

const (
	PhaseInit Phase = iota
	PhaseParse
	PhaseGenerate
	PhaseVerify
	PhaseOptimize
	PhaseEmit
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "Initialization"
	case PhaseParse:
		return "Parse and Peephole Optimization"
	case PhaseGenerate:
		return "Code Generation"
	case PhaseVerify:
		return "Verification"
	case PhaseOptimize:
		return "Backend Optimization"
	case PhaseEmit:
		return "Emission"
	case PhaseComplete:
		return "Compilation Complete"
	default:
		return fmt.Sprintf("Unknown Phase %d", p)
	}
}

// Pipeline runs one source file through the compiler up to a Stage
type Pipeline struct {
	Config Config
	Fs     afero.Fs  // where sources are read and listings are written
	Stdin  io.Reader // program input for StageJIT
	Stdout io.Writer // listings, IR and program output

	RawTokens bool // StageTokens lists the source without peephole optimization

	phase  Phase
	phases []Phase
}

// Result is what a compilation produced
type Result struct {
	Program  bf.Program
	Unit     *backend.Unit
	Output   string // file written for StageObject and StageExecutable
	ExitCode int    // program result for StageJIT
}

// NewPipeline creates a pipeline writing to stdout and reading program input from stdin
func NewPipeline(cfg Config, fs afero.Fs) *Pipeline {
	return &Pipeline{
		Config: cfg,
		Fs:     fs,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
	}
}

// advance moves to the next phase; going backwards is a driver bug
func (p *Pipeline) advance(next Phase) {
	if next <= p.phase {
		var history []string
		for _, ph := range p.phases {
			history = append(history, ph.String())
		}
		panic(fmt.Sprintf("invalid compilation phase transition: %s -> %s (history: %s)",
			p.phase, next, strings.Join(history, ", ")))
	}
	p.phase = next
	p.phases = append(p.phases, next)
	glog.V(3).Infof("pipeline: %s", next)
}

// Phases returns the phases the last compilation went through
func (p *Pipeline) Phases() []Phase {
	return append([]Phase(nil), p.phases...)
}

// CompileFile reads path through the pipeline's filesystem and compiles it
func (p *Pipeline) CompileFile(ctx context.Context, path string, stage Stage, out string) (*Result, error) {
	src, err := afero.ReadFile(p.Fs, path)
	if err != nil {
		return nil, err
	}
	return p.Compile(ctx, path, src, stage, out)
}

// Compile lowers src up to stage. name labels the module and diagnostics;
// out is the output path for StageObject and StageExecutable.
func (p *Pipeline) Compile(ctx context.Context, name string, src []byte, stage Stage, out string) (res *Result, err error) {
	p.phase, p.phases = PhaseInit, []Phase{PhaseInit}
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	res = &Result{}

	p.advance(PhaseParse)
	if stage == StageTokens && p.RawTokens {
		res.Program = bf.ParseRaw(string(src))
		return res, p.write(res.Program.String())
	}
	if res.Program, err = bf.Parse(bytes.NewReader(src)); err != nil {
		return nil, err
	}
	glog.V(3).Infof("pipeline: %s: %d instructions after peephole optimization", name, len(res.Program))
	if stage == StageTokens {
		return res, p.write(res.Program.String())
	}

	p.advance(PhaseGenerate)
	if res.Unit, err = p.generate(name, res.Program, stage); err != nil {
		return nil, err
	}

	p.advance(PhaseVerify)
	if err := backend.Verify(res.Unit); err != nil {
		return nil, err
	}

	if stage != StageIR {
		p.advance(PhaseOptimize)
		if err := backend.Optimize(res.Unit, p.Config.OptLevel); err != nil {
			return nil, err
		}
	}

	p.advance(PhaseEmit)
	switch stage {
	case StageIR, StageOptimizedIR:
		if _, err := res.Unit.WriteTo(p.Stdout); err != nil {
			return nil, err
		}
	case StageObject:
		res.Output = outputPath(name, out, ".o")
		if err := p.emitObject(ctx, res.Unit, res.Output); err != nil {
			return nil, err
		}
	case StageExecutable:
		res.Output = outputPath(name, out, "")
		if err := p.link(ctx, res.Unit, res.Output); err != nil {
			return nil, err
		}
	case StageJIT:
		if res.ExitCode, err = jit.Run(ctx, res.Unit, codegen.EntryName, p.Stdin, p.Stdout); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported stage %s", stage)
	}

	p.advance(PhaseComplete)
	return res, nil
}

// generate turns a contract violation in the generator into an error so the
// driver can report it like any other internal failure
func (p *Pipeline) generate(name string, prog bf.Program, stage Stage) (u *backend.Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*codegen.ContractError)
			if !ok {
				panic(r)
			}
			err = ce
		}
	}()

	if err := bf.Balance(prog); err != nil {
		return nil, err
	}
	triple, err := p.Config.TargetTriple()
	if err != nil {
		return nil, err
	}
	opts := []codegen.Option{codegen.WithName(filepath.Base(name)), codegen.WithTargetTriple(triple)}
	if stage == StageObject || stage == StageExecutable {
		opts = append(opts, codegen.WithMain())
	}
	return codegen.Generate(prog, p.Config.Machine(), opts...)
}

func (p *Pipeline) emitObject(ctx context.Context, u *backend.Unit, path string) error {
	tc, err := p.Config.Toolchain().Resolve()
	if err != nil {
		return err
	}
	return tc.EmitObject(ctx, u, path)
}

func (p *Pipeline) link(ctx context.Context, u *backend.Unit, out string) error {
	tc, err := p.Config.Toolchain().Resolve()
	if err != nil {
		return err
	}
	obj, err := os.CreateTemp("", "bfc-*.o")
	if err != nil {
		return err
	}
	obj.Close()
	defer os.Remove(obj.Name())

	if err := tc.EmitObject(ctx, u, obj.Name()); err != nil {
		return err
	}
	return tc.Link(ctx, out, obj.Name())
}

func (p *Pipeline) write(s string) error {
	_, err := io.WriteString(p.Stdout, s)
	return err
}

// outputPath picks the output file: out when given, otherwise the source
// name with its extension replaced by ext
func outputPath(source, out, ext string) string {
	if out != "" {
		return out
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == "" || base == "-" {
		base = "a"
	}
	return base + ext
}
