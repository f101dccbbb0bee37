package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/xyproto/bfc/internal/backend"
	"github.com/xyproto/bfc/internal/bf"
	"github.com/xyproto/bfc/internal/jit"
)

func TestCompilerErrorFormat(t *testing.T) {
	e := CompilerError{
		Level:    LevelError,
		Category: CategorySyntax,
		Message:  "unmatched loop delimiter '['",
		Location: SourceLocation{File: "x.bf", Line: 3, Column: 4},
		Context:  ErrorContext{SourceLine: "++[>", Suggestion: "add a ']'", HelpText: "every '[' needs a ']'"},
	}
	require.Equal(t, "x.bf:3:4: unmatched loop delimiter '['", e.Error())

	plain := e.Format(false)
	require.Equal(t, strings.Join([]string{
		"error: unmatched loop delimiter '['",
		"  --> x.bf:3:4",
		"  |",
		"3 | ++[>",
		"  |    ^",
		"   help: add a ']'",
		"   note: every '[' needs a ']'",
		"",
	}, "\n"), plain)

	colored := e.Format(true)
	require.Contains(t, colored, "\x1b[")
	require.NotContains(t, plain, "\x1b[")
}

func TestSourceLocationString(t *testing.T) {
	require.Equal(t, "a.bf:1:2", SourceLocation{File: "a.bf", Line: 1, Column: 2}.String())
	require.Equal(t, "1:2", SourceLocation{Line: 1, Column: 2}.String())
	require.Equal(t, "a.bf", SourceLocation{File: "a.bf"}.String())
	require.Equal(t, "", SourceLocation{}.String())
}

func TestClassify(t *testing.T) {
	source := "+\n[[-]\n"
	tests := []struct {
		name     string
		err      error
		count    int
		level    ErrorLevel
		category ErrorCategory
	}{
		{"loop", &bf.LoopError{Index: 1, Pos: bf.Position{Line: 2, Column: 1}, Unclosed: true}, 1, LevelError, CategorySyntax},
		{"wrapped loop", fmt.Errorf("parse: %w", &bf.LoopError{Index: 0}), 1, LevelError, CategorySyntax},
		{"verifier", multierror.Append(nil, errors.New("a"), errors.New("b")), 2, LevelFatal, CategoryInternal},
		{"tool", &backend.ToolError{Tool: "llc", Stderr: "bad IR", Err: errors.New("exit status 1")}, 1, LevelError, CategoryToolchain},
		{"fault", &jit.Fault{Func: "brainfuck", Block: "start", Msg: "load outside"}, 1, LevelError, CategoryRuntime},
		{"config", ConfigError("bad", ""), 1, LevelError, CategoryConfig},
		{"other", errors.New("boom"), 1, LevelError, CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := NewErrorCollector(source)
			ec.Classify(tt.err, "x.bf")
			require.Equal(t, tt.count, ec.ErrorCount())
			require.True(t, ec.HasErrors())
			for _, e := range ec.errors {
				require.Equal(t, tt.level, e.Level)
				require.Equal(t, tt.category, e.Category)
			}
		})
	}
}

func TestClassifyFillsSourceLine(t *testing.T) {
	ec := NewErrorCollector("+\n[[-]\n")
	ec.Classify(&bf.LoopError{Index: 1, Pos: bf.Position{Line: 2, Column: 1}, Unclosed: true}, "x.bf")
	require.Equal(t, "[[-]", ec.errors[0].Context.SourceLine)

	report := ec.Report(false)
	require.Contains(t, report, "unmatched loop delimiter '['")
	require.Contains(t, report, "this '[' is never closed")
}

func TestReportSummary(t *testing.T) {
	ec := NewErrorCollector("")
	ec.AddError(CompilerError{Level: LevelError, Message: "one"})
	ec.AddError(CompilerError{Level: LevelWarning, Message: "two"})
	report := ec.Report(false)
	require.Contains(t, report, "warning: two")
	require.True(t, strings.HasSuffix(report, "1 error(s), 1 warning(s) found\n"))
}

func TestUseColor(t *testing.T) {
	require.True(t, UseColor("always", nil))
	require.False(t, UseColor("never", nil))
	require.False(t, UseColor("auto", nil))
}
