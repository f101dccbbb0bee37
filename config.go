// Completion: 100% - Configuration layering complete
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"

	"github.com/xyproto/bfc/internal/backend"
	"github.com/xyproto/bfc/internal/codegen"
	"github.com/xyproto/bfc/internal/engine"
)

// config.go - Compiler settings
//
// Settings are layered, later layers win:
//
//   built-in defaults < YAML file (--config or $BFC_CONFIG) < BFC_* environment < flags

// Config holds every setting that changes the generated code or how it is built
type Config struct {
	Memory   uint64                 `yaml:"memory"`
	Overflow codegen.OverflowPolicy `yaml:"overflow"`
	Debug    bool                   `yaml:"debug"`
	OptLevel int                    `yaml:"opt_level"`
	Target   string                 `yaml:"target"`
	LLC      string                 `yaml:"llc"`
	CC       string                 `yaml:"cc"`
}

// Environment variables that override the config file
const (
	EnvConfig   = "BFC_CONFIG"
	EnvMemory   = "BFC_MEMORY"
	EnvOverflow = "BFC_OVERFLOW"
	EnvDebug    = "BFC_DEBUG"
	EnvOptLevel = "BFC_OPT_LEVEL"
	EnvTarget   = "BFC_TARGET"
	EnvLLC      = "BFC_LLC"
	EnvCC       = "BFC_CC"
)

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	m := codegen.DefaultMachine()
	tc := backend.DefaultToolchain()
	return Config{
		Memory:   m.Capacity,
		Overflow: m.Overflow,
		OptLevel: 1,
		LLC:      tc.LLC,
		CC:       tc.CC,
	}
}

// LoadConfig applies the config file at path (if any) and the environment on
// top of the defaults. An empty path falls back to $BFC_CONFIG; an explicit
// path that does not exist is an error.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = env.Str(EnvConfig)
	}
	if path != "" {
		if err := cfg.loadFile(fs, path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", path, err)
	}
	glog.V(2).Infof("config: loaded %s", path)
	return nil
}

func (c *Config) loadEnv() error {
	if s := env.Str(EnvMemory); s != "" {
		var n uint64
		if _, err := fmt.Sscan(s, &n); err != nil {
			return fmt.Errorf("%s=%q: not a cell count", EnvMemory, s)
		}
		c.Memory = n
	}
	if s := env.Str(EnvOverflow); s != "" {
		if err := c.Overflow.Set(s); err != nil {
			return fmt.Errorf("%s: %w", EnvOverflow, err)
		}
	}
	if env.Has(EnvDebug) {
		c.Debug = env.Bool(EnvDebug)
	}
	if env.Has(EnvOptLevel) {
		c.OptLevel = env.Int(EnvOptLevel, c.OptLevel)
	}
	c.Target = env.Str(EnvTarget, c.Target)
	c.LLC = env.Str(EnvLLC, c.LLC)
	c.CC = env.Str(EnvCC, c.CC)
	return nil
}

// Flags is the set of command-line overrides bound to the root command
type Flags struct {
	Config   string
	Memory   uint64
	Overflow codegen.OverflowPolicy
	Debug    bool
	OptLevel int
	Target   string
}

// Bind registers the flags on fs
func (f *Flags) Bind(fs *pflag.FlagSet) {
	def := DefaultConfig()
	f.Overflow = def.Overflow
	fs.StringVar(&f.Config, "config", "", "YAML config file (default $"+EnvConfig+")")
	fs.Uint64Var(&f.Memory, "memory", def.Memory, "number of tape cells")
	fs.Var(&f.Overflow, "overflow", "pointer overflow policy: undefined, wrap or abort")
	fs.BoolVar(&f.Debug, "debug", false, "print a trace of the tape before every instruction")
	fs.IntVarP(&f.OptLevel, "opt-level", "O", def.OptLevel, fmt.Sprintf("backend optimization level (0-%d)", backend.MaxOptLevel))
	fs.StringVar(&f.Target, "target", "", "target platform, e.g. arm64-darwin or a full triple (default host)")
}

// Apply overrides cfg with the flags that were set explicitly
func (f *Flags) Apply(cfg *Config, fs *pflag.FlagSet) {
	if fs.Changed("memory") {
		cfg.Memory = f.Memory
	}
	if fs.Changed("overflow") {
		cfg.Overflow = f.Overflow
	}
	if fs.Changed("debug") {
		cfg.Debug = f.Debug
	}
	if fs.Changed("opt-level") {
		cfg.OptLevel = f.OptLevel
	}
	if fs.Changed("target") {
		cfg.Target = f.Target
	}
}

// Validate checks the settings that can be checked without compiling
func (c Config) Validate() error {
	if err := c.Machine().Validate(); err != nil {
		return ConfigError(err.Error(), "use --memory with a positive cell count")
	}
	if c.OptLevel < 0 || c.OptLevel > backend.MaxOptLevel {
		return ConfigError(fmt.Sprintf("invalid optimization level %d", c.OptLevel),
			fmt.Sprintf("use -O0 to -O%d", backend.MaxOptLevel))
	}
	if _, err := c.TargetTriple(); err != nil {
		return ConfigError(err.Error(), "use an arch-os pair such as amd64-linux or arm64-darwin")
	}
	return nil
}

// Machine returns the tape description for the code generator
func (c Config) Machine() codegen.Machine {
	return codegen.Machine{Capacity: c.Memory, Overflow: c.Overflow, Debug: c.Debug}
}

// Toolchain returns the external programs used for native output
func (c Config) Toolchain() backend.Toolchain {
	return backend.Toolchain{LLC: c.LLC, CC: c.CC}
}

// TargetTriple returns the LLVM triple for Target, or the host triple when unset.
// A full triple is passed through unchanged once its arch and OS are recognised.
func (c Config) TargetTriple() (string, error) {
	if c.Target == "" {
		return engine.HostTriple(), nil
	}
	p, err := engine.ParsePlatform(c.Target)
	if err != nil {
		return "", err
	}
	if strings.Count(c.Target, "-") >= 2 {
		return c.Target, nil
	}
	return p.Triple(), nil
}

// Dump writes cfg as YAML, used by "bfc config"
func (c Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
