package main

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"github.com/xyproto/env/v2"

	"github.com/xyproto/bfc/internal/codegen"
	"github.com/xyproto/bfc/internal/engine"
)

// setenv sets a variable for the duration of the test
func setenv(t *testing.T, name, value string) {
	t.Helper()
	require.NoError(t, env.Set(name, value))
	t.Cleanup(func() { _ = env.Unset(name) })
}

func clearBfcEnv(t *testing.T) {
	for _, name := range []string{EnvConfig, EnvMemory, EnvOverflow, EnvDebug, EnvOptLevel, EnvTarget, EnvLLC, EnvCC} {
		if env.Has(name) {
			old := env.Str(name)
			require.NoError(t, env.Unset(name))
			t.Cleanup(func() { _ = env.Set(name, old) })
		}
	}
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestDefaultConfig(t *testing.T) {
	clearBfcEnv(t)
	cfg, err := LoadConfig(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.Equal(t, codegen.DefaultMachine(), cfg.Machine())
	require.NoError(t, cfg.Validate())
}

func TestConfigFile(t *testing.T) {
	clearBfcEnv(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "bfc.yaml", `
memory: 100
overflow: wrap
debug: true
opt_level: 2
target: arm64-darwin
llc: llc-17
`)
	cfg, err := LoadConfig(fs, "bfc.yaml")
	require.NoError(t, err)
	require.Equal(t, uint64(100), cfg.Memory)
	require.Equal(t, codegen.Wrap, cfg.Overflow)
	require.True(t, cfg.Debug)
	require.Equal(t, 2, cfg.OptLevel)
	require.Equal(t, "llc-17", cfg.Toolchain().LLC)
	require.Equal(t, "cc", cfg.Toolchain().CC)

	triple, err := cfg.TargetTriple()
	require.NoError(t, err)
	require.Equal(t, "arm64-apple-darwin", triple)
}

func TestConfigFileFromEnvironment(t *testing.T) {
	clearBfcEnv(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/bfc.yaml", "memory: 7\n")
	setenv(t, EnvConfig, "/etc/bfc.yaml")

	cfg, err := LoadConfig(fs, "")
	require.NoError(t, err)
	require.Equal(t, uint64(7), cfg.Memory)
}

func TestConfigFileErrors(t *testing.T) {
	clearBfcEnv(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "typo.yaml", "memroy: 10\n")
	writeFile(t, fs, "policy.yaml", "overflow: warp\n")
	writeFile(t, fs, "empty.yaml", "")

	_, err := LoadConfig(fs, "missing.yaml")
	require.Error(t, err)

	_, err = LoadConfig(fs, "typo.yaml")
	require.ErrorContains(t, err, "memroy")

	_, err = LoadConfig(fs, "policy.yaml")
	require.ErrorContains(t, err, `did you mean "wrap"`)

	cfg, err := LoadConfig(fs, "empty.yaml")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearBfcEnv(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "bfc.yaml", "memory: 100\noverflow: wrap\n")
	setenv(t, EnvMemory, "64")
	setenv(t, EnvOverflow, "ABORT")
	setenv(t, EnvDebug, "true")
	setenv(t, EnvOptLevel, "3")
	setenv(t, EnvCC, "clang")

	cfg, err := LoadConfig(fs, "bfc.yaml")
	require.NoError(t, err)
	require.Equal(t, uint64(64), cfg.Memory)
	require.Equal(t, codegen.Abort, cfg.Overflow)
	require.True(t, cfg.Debug)
	require.Equal(t, 3, cfg.OptLevel)
	require.Equal(t, "clang", cfg.CC)
}

func TestEnvironmentErrors(t *testing.T) {
	clearBfcEnv(t)
	setenv(t, EnvMemory, "lots")
	_, err := LoadConfig(afero.NewMemMapFs(), "")
	require.ErrorContains(t, err, EnvMemory)
}

func TestFlagsOverrideEverything(t *testing.T) {
	clearBfcEnv(t)
	setenv(t, EnvMemory, "64")
	setenv(t, EnvOverflow, "abort")

	var flags Flags
	fs := pflag.NewFlagSet("bfc", pflag.ContinueOnError)
	flags.Bind(fs)
	require.NoError(t, fs.Parse([]string{"--memory=8", "--overflow", "wrap", "-O0", "--target", "amd64-linux"}))

	cfg, err := LoadConfig(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	flags.Apply(&cfg, fs)
	require.Equal(t, uint64(8), cfg.Memory)
	require.Equal(t, codegen.Wrap, cfg.Overflow)
	require.Equal(t, 0, cfg.OptLevel)
	require.False(t, cfg.Debug, "unset flags leave the loaded value alone")

	triple, err := cfg.TargetTriple()
	require.NoError(t, err)
	require.Equal(t, "x86_64-pc-linux-gnu", triple)
}

func TestOverflowFlagRejectsUnknownPolicy(t *testing.T) {
	var flags Flags
	fs := pflag.NewFlagSet("bfc", pflag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	flags.Bind(fs)
	require.Error(t, fs.Parse([]string{"--overflow=sometimes"}))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"zero memory", func(c *Config) { c.Memory = 0 }, "capacity must be positive"},
		{"opt level", func(c *Config) { c.OptLevel = 7 }, "invalid optimization level 7"},
		{"target", func(c *Config) { c.Target = "sparc-linux" }, "sparc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.ErrorContains(t, err, tt.want)

			var ce CompilerError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, CategoryConfig, ce.Category)
		})
	}
}

func TestTargetTriple(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"", engine.HostTriple()},
		{"arm64-linux", "aarch64-unknown-linux-gnu"},
		{"amd64-windows", "x86_64-pc-windows-msvc"},
		{"x86_64-unknown-linux-gnu", "x86_64-unknown-linux-gnu"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Target = tt.target
		got, err := cfg.TargetTriple()
		require.NoError(t, err, tt.target)
		require.Equal(t, tt.want, got, tt.target)
	}
}

func TestConfigDump(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overflow = codegen.Abort
	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))
	require.Contains(t, buf.String(), "overflow: abort")
	require.Contains(t, buf.String(), "memory: 4096")

	// the dump is a valid config file
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "dump.yaml", buf.String())
	clearBfcEnv(t)
	loaded, err := LoadConfig(fs, "dump.yaml")
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
