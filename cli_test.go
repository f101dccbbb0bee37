package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/xyproto/bfc/internal/codegen"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// runCLI executes bfc with args against an in-memory filesystem holding files
func runCLI(t *testing.T, files map[string]string, stdin string, args ...string) cliResult {
	t.Helper()
	clearBfcEnv(t)
	fs := afero.NewMemMapFs()
	for name, content := range files {
		writeFile(t, fs, name, content)
	}
	var stdout, stderr bytes.Buffer
	cc := &CommandContext{
		Config: DefaultConfig(),
		Fs:     fs,
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
	}
	code := execute(context.Background(), cc, append([]string{"--color=never"}, args...))
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestCLIRun(t *testing.T) {
	r := runCLI(t, map[string]string{"hello.bf": helloWorld}, "", "run", "hello.bf")
	require.Equal(t, "Hello World!\n", r.stdout)
	require.Equal(t, 10, r.code, "the exit code is the final cell")
	require.Empty(t, r.stderr)
}

func TestCLIRunStdin(t *testing.T) {
	r := runCLI(t, nil, "++++++++[>++++++++<-]>+.", "run", "-")
	require.Equal(t, "A", r.stdout)
	require.Equal(t, 65, r.code)
}

func TestCLIRunAbort(t *testing.T) {
	r := runCLI(t, map[string]string{"far.bf": ">>>>>>>>+."}, "", "--memory", "8", "--overflow", "abort", "run", "far.bf")
	require.Empty(t, r.stdout)
	require.Equal(t, codegen.AbortExitCode, r.code)
}

func TestCLIRunZeroExit(t *testing.T) {
	r := runCLI(t, map[string]string{"z.bf": "+-"}, "", "run", "z.bf")
	require.Zero(t, r.code)
}

func TestCLITokens(t *testing.T) {
	files := map[string]string{"t.bf": "+++--[-]>>><"}
	r := runCLI(t, files, "", "tokens", "t.bf")
	require.Zero(t, r.code)
	require.Equal(t, "SetValue(0)\nAddPointer(2)\n", r.stdout)

	r = runCLI(t, files, "", "tokens", "--raw", "t.bf")
	require.Zero(t, r.code)
	require.Equal(t, 12, strings.Count(r.stdout, "\n"))
}

func TestCLIIR(t *testing.T) {
	files := map[string]string{"hello.bf": helloWorld}
	r := runCLI(t, files, "", "ir", "hello.bf")
	require.Zero(t, r.code)
	require.Contains(t, r.stdout, "define i32 @brainfuck()")

	r = runCLI(t, files, "", "--target", "arm64-darwin", "ir", "--optimized", "hello.bf")
	require.Zero(t, r.code)
	require.Contains(t, r.stdout, `target triple = "arm64-apple-darwin"`)

	r = runCLI(t, files, "", "--overflow=wrap", "ir", "hello.bf")
	require.Contains(t, r.stdout, "urem")
}

func TestCLIUnmatchedLoop(t *testing.T) {
	r := runCLI(t, map[string]string{"bad.bf": "+\n+]"}, "", "run", "bad.bf")
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, "error: unmatched loop delimiter ']'")
	require.Contains(t, r.stderr, "--> bad.bf:2:2")
	require.Contains(t, r.stderr, "2 | +]")
	require.NotContains(t, r.stderr, "\x1b[", "--color=never")
}

func TestCLIMissingFile(t *testing.T) {
	r := runCLI(t, nil, "", "build", "nope.bf")
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, "file not found: nope.bf")
}

func TestCLIBadFlags(t *testing.T) {
	r := runCLI(t, nil, "", "--overflow", "wrpa", "config")
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, `did you mean "wrap"`)

	r = runCLI(t, nil, "", "--memory", "0", "run", "-")
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, "capacity must be positive")

	r = runCLI(t, nil, "", "--color", "sometimes", "version")
	require.Equal(t, 1, r.code)
}

func TestCLIUnknownCommand(t *testing.T) {
	r := runCLI(t, nil, "", "frobnicate")
	require.Equal(t, 1, r.code)
	require.Contains(t, r.stderr, `unknown command "frobnicate"`)
}

func TestCLIConfig(t *testing.T) {
	files := map[string]string{"bfc.yaml": "memory: 100\noverflow: wrap\n"}
	r := runCLI(t, files, "", "--config", "bfc.yaml", "--memory", "64", "config")
	require.Zero(t, r.code)
	require.Contains(t, r.stdout, "memory: 64")
	require.Contains(t, r.stdout, "overflow: wrap")
}

func TestCLIVersion(t *testing.T) {
	r := runCLI(t, nil, "", "version")
	require.Zero(t, r.code)
	require.Equal(t, versionString+"\n", r.stdout)
}

func TestCLIHelp(t *testing.T) {
	r := runCLI(t, nil, "")
	require.Zero(t, r.code)
	require.Contains(t, r.stdout, "bfc build hello.bf")
}

func TestIsSourceArg(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "prog", "+")
	require.NoError(t, fs.Mkdir("dir", 0o755))

	require.True(t, isSourceArg(fs, "hello.bf"))
	require.True(t, isSourceArg(fs, "HELLO.B"))
	require.True(t, isSourceArg(fs, "prog"))
	require.False(t, isSourceArg(fs, "dir"))
	require.False(t, isSourceArg(fs, "frobnicate"))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 3, ExitCode(&exitError{code: 3}))
	require.Equal(t, 1, ExitCode(ConfigError("x", "")))
}
