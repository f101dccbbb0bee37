// Completion: 100% - Error handling complete, clear and helpful messages
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/xyproto/env/v2"
	"golang.org/x/term"

	"github.com/xyproto/bfc/internal/backend"
	"github.com/xyproto/bfc/internal/bf"
	"github.com/xyproto/bfc/internal/codegen"
	"github.com/xyproto/bfc/internal/jit"
)

// ErrorLevel indicates the severity of an error
type ErrorLevel int

const (
	LevelWarning ErrorLevel = iota
	LevelError
	LevelFatal
)

func (l ErrorLevel) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal error"
	default:
		return "unknown"
	}
}

// ErrorCategory classifies the type of error
type ErrorCategory int

const (
	CategorySyntax ErrorCategory = iota
	CategoryConfig
	CategoryCodegen
	CategoryToolchain
	CategoryRuntime
	CategoryInternal
)

func (c ErrorCategory) String() string {
	switch c {
	case CategorySyntax:
		return "syntax"
	case CategoryConfig:
		return "config"
	case CategoryCodegen:
		return "codegen"
	case CategoryToolchain:
		return "toolchain"
	case CategoryRuntime:
		return "runtime"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// SourceLocation represents a position in source code
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

func (loc SourceLocation) String() string {
	switch {
	case loc.Line == 0:
		return loc.File
	case loc.File == "":
		return fmt.Sprintf("%d:%d", loc.Line, loc.Column)
	}
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Column)
}

// ErrorContext provides additional context for an error
type ErrorContext struct {
	SourceLine string // The actual line of source code
	Suggestion string
	HelpText   string
}

// CompilerError represents a single compilation error
type CompilerError struct {
	Level    ErrorLevel
	Category ErrorCategory
	Message  string
	Location SourceLocation
	Context  ErrorContext
	Err      error // the underlying error, if any
}

// Error implements the error interface
func (e CompilerError) Error() string {
	if loc := e.Location.String(); loc != "" {
		return fmt.Sprintf("%s: %s", loc, e.Message)
	}
	return e.Message
}

func (e CompilerError) Unwrap() error {
	return e.Err
}

func paint(useColor bool, attrs ...color.Attribute) func(a ...interface{}) string {
	c := color.New(attrs...)
	if useColor {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.SprintFunc()
}

// Format returns a nicely formatted error message with context
func (e CompilerError) Format(useColor bool) string {
	var (
		red   = paint(useColor, color.FgRed, color.Bold)
		blue  = paint(useColor, color.FgBlue, color.Bold)
		green = paint(useColor, color.FgGreen, color.Bold)
		cyan  = paint(useColor, color.FgCyan, color.Bold)
	)
	if e.Level == LevelWarning {
		red = paint(useColor, color.FgYellow, color.Bold)
	}

	var sb strings.Builder
	sb.WriteString(red(e.Level.String() + ": "))
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if loc := e.Location.String(); loc != "" {
		sb.WriteString(blue("  --> " + loc))
		sb.WriteString("\n")
	}

	// Source context
	if e.Context.SourceLine != "" && e.Location.Line > 0 {
		lineNum := fmt.Sprintf("%d", e.Location.Line)
		padding := strings.Repeat(" ", len(lineNum)+1)

		sb.WriteString(padding + "|\n")
		sb.WriteString(lineNum + " | " + e.Context.SourceLine + "\n")
		sb.WriteString(padding + "| ")
		if e.Location.Column > 0 {
			sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
			sb.WriteString(red("^"))
		}
		sb.WriteString("\n")
	}

	if e.Context.Suggestion != "" {
		sb.WriteString(green("   help: "))
		sb.WriteString(e.Context.Suggestion)
		sb.WriteString("\n")
	}
	if e.Context.HelpText != "" {
		sb.WriteString(cyan("   note: "))
		sb.WriteString(strings.ReplaceAll(strings.TrimSpace(e.Context.HelpText), "\n", "\n         "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// ErrorCollector accumulates errors for one report
type ErrorCollector struct {
	errors     []CompilerError
	warnings   []CompilerError
	sourceCode string
}

// NewErrorCollector creates a new error collector for the given source
func NewErrorCollector(source string) *ErrorCollector {
	return &ErrorCollector{sourceCode: source}
}

// AddError adds a compilation error or warning
func (ec *ErrorCollector) AddError(err CompilerError) {
	if err.Context.SourceLine == "" {
		err.Context.SourceLine = sourceLine(ec.sourceCode, err.Location.Line)
	}
	if err.Level == LevelWarning {
		ec.warnings = append(ec.warnings, err)
	} else {
		ec.errors = append(ec.errors, err)
	}
}

// HasErrors returns true if any errors were collected
func (ec *ErrorCollector) HasErrors() bool {
	return len(ec.errors) > 0
}

// ErrorCount returns the number of errors
func (ec *ErrorCollector) ErrorCount() int {
	return len(ec.errors)
}

// Report formats all errors and warnings for display
func (ec *ErrorCollector) Report(useColor bool) string {
	var sb strings.Builder
	all := append(append([]CompilerError{}, ec.errors...), ec.warnings...)
	for i, err := range all {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(err.Format(useColor))
	}
	if len(all) > 1 {
		var parts []string
		if n := len(ec.errors); n > 0 {
			parts = append(parts, paint(useColor, color.FgRed, color.Bold)(fmt.Sprintf("%d error(s)", n)))
		}
		if n := len(ec.warnings); n > 0 {
			parts = append(parts, paint(useColor, color.FgYellow, color.Bold)(fmt.Sprintf("%d warning(s)", n)))
		}
		sb.WriteString("\n" + strings.Join(parts, ", ") + " found\n")
	}
	return sb.String()
}

func sourceLine(source string, lineNum int) string {
	if source == "" || lineNum <= 0 {
		return ""
	}
	lines := strings.Split(source, "\n")
	if lineNum > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[lineNum-1], "\r")
}

// Classify turns an error from any stage into CompilerErrors.
// A *multierror.Error from the verifier yields one entry per problem.
func (ec *ErrorCollector) Classify(err error, file string) {
	var (
		loopErr     *bf.LoopError
		toolErr     *backend.ToolError
		fault       *jit.Fault
		contractErr *codegen.ContractError
		merr        *multierror.Error
		compErr     CompilerError
	)
	switch {
	case errors.As(err, &compErr):
		ec.AddError(compErr)
	case errors.As(err, &loopErr):
		ec.AddError(LoopDelimiterError(loopErr, file))
	case errors.As(err, &merr):
		for _, e := range merr.Errors {
			ec.AddError(FatalError(e.Error(), SourceLocation{File: file}, e))
		}
	case errors.As(err, &contractErr):
		ec.AddError(FatalError(contractErr.Error(), SourceLocation{File: file}, err))
	case errors.As(err, &toolErr):
		ec.AddError(CompilerError{
			Level:    LevelError,
			Category: CategoryToolchain,
			Message:  fmt.Sprintf("%s failed: %v", toolErr.Tool, toolErr.Err),
			Location: SourceLocation{File: file},
			Context:  ErrorContext{HelpText: toolErr.Stderr},
			Err:      err,
		})
	case errors.As(err, &fault):
		ec.AddError(CompilerError{
			Level:    LevelError,
			Category: CategoryRuntime,
			Message:  fault.Error(),
			Location: SourceLocation{File: file},
			Context:  ErrorContext{Suggestion: "run with --overflow=abort or --overflow=wrap to keep the pointer in bounds"},
			Err:      err,
		})
	case errors.Is(err, backend.ErrNoTargetTriple):
		ec.AddError(CompilerError{Level: LevelError, Category: CategoryCodegen, Message: err.Error(), Err: err,
			Context: ErrorContext{Suggestion: "pass --target"}})
	default:
		ec.AddError(CompilerError{Level: LevelError, Category: CategoryInternal, Message: err.Error(), Location: SourceLocation{File: file}, Err: err})
	}
}

// LoopDelimiterError creates the error for an unmatched '[' or ']'
func LoopDelimiterError(e *bf.LoopError, file string) CompilerError {
	what, help := "]", "this ']' has no '[' before it"
	if e.Unclosed {
		what, help = "[", "this '[' is never closed"
	}
	return CompilerError{
		Level:    LevelError,
		Category: CategorySyntax,
		Message:  fmt.Sprintf("unmatched loop delimiter '%s'", what),
		Location: SourceLocation{File: file, Line: e.Pos.Line, Column: e.Pos.Column},
		Context:  ErrorContext{HelpText: help},
		Err:      e,
	}
}

// ConfigError creates an error for invalid settings
func ConfigError(message, suggestion string) CompilerError {
	return CompilerError{
		Level:    LevelError,
		Category: CategoryConfig,
		Message:  message,
		Context:  ErrorContext{Suggestion: suggestion},
	}
}

// FatalError creates a fatal internal error
func FatalError(message string, loc SourceLocation, err error) CompilerError {
	return CompilerError{
		Level:    LevelFatal,
		Category: CategoryInternal,
		Message:  message,
		Location: loc,
		Context: ErrorContext{
			HelpText: "This is an internal compiler error. Please report this bug.",
		},
		Err: err,
	}
}

// UseColor decides whether diagnostics written to f are coloured.
// mode is "always", "never" or "auto"; auto honours NO_COLOR and needs a terminal.
func UseColor(mode string, f *os.File) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if env.Has("NO_COLOR") {
		return false
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}
