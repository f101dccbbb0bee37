// Completion: 100% - Utility module complete
package engine

import (
	"fmt"
	"runtime"
	"strings"
)

// arch.go - Target platforms and their LLVM triples

// Arch is a CPU architecture
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86_64
	ArchARM64
	ArchRiscv64
)

// LLVM names first, then the aliases accepted on the command line
var archNames = map[Arch][]string{
	ArchX86_64:  {"x86_64", "amd64", "x86-64"},
	ArchARM64:   {"aarch64", "arm64"},
	ArchRiscv64: {"riscv64", "riscv", "rv64"},
}

func (a Arch) String() string {
	if names, ok := archNames[a]; ok {
		return names[0]
	}
	return "unknown"
}

// ParseArch parses an architecture name, GOARCH values included
func ParseArch(s string) (Arch, error) {
	s = strings.ToLower(s)
	for a, names := range archNames {
		for _, name := range names {
			if name == s {
				return a, nil
			}
		}
	}
	return ArchUnknown, fmt.Errorf("unsupported architecture: %s (supported: amd64, arm64, riscv64)", s)
}

// OS is an operating system
type OS int

const (
	OSLinux OS = iota
	OSDarwin
	OSFreeBSD
	OSWindows
)

var osNames = map[OS][]string{
	OSLinux:   {"linux"},
	OSDarwin:  {"darwin", "macos"},
	OSFreeBSD: {"freebsd"},
	OSWindows: {"windows", "win"},
}

func (o OS) String() string {
	if names, ok := osNames[o]; ok {
		return names[0]
	}
	return "unknown"
}

// ParseOS parses an operating system name, GOOS values included
func ParseOS(s string) (OS, error) {
	s = strings.ToLower(s)
	for o, names := range osNames {
		for _, name := range names {
			if name == s {
				return o, nil
			}
		}
	}
	return 0, fmt.Errorf("unsupported OS: %s (supported: linux, darwin, freebsd, windows)", s)
}

// Platform represents a target platform (architecture + OS)
type Platform struct {
	Arch Arch
	OS   OS
}

// String returns a human-readable platform string like "arm64-darwin"
func (p Platform) String() string {
	arch := p.Arch.String()
	switch p.Arch {
	case ArchX86_64:
		arch = "amd64"
	case ArchARM64:
		arch = "arm64"
	}
	return arch + "-" + p.OS.String()
}

// Triple returns the LLVM target triple for the platform
func (p Platform) Triple() string {
	arch := p.Arch.String()
	switch p.OS {
	case OSDarwin:
		if p.Arch == ArchARM64 {
			arch = "arm64"
		}
		return arch + "-apple-darwin"
	case OSFreeBSD:
		return arch + "-unknown-freebsd"
	case OSWindows:
		return arch + "-pc-windows-msvc"
	default:
		if p.Arch == ArchX86_64 {
			return arch + "-pc-linux-gnu"
		}
		return arch + "-unknown-linux-gnu"
	}
}

// ParsePlatform accepts "arch", "arch-os" or a full target triple
func ParsePlatform(s string) (Platform, error) {
	s = canonicalArch(strings.ToLower(s))
	parts := strings.Split(s, "-")
	arch, err := ParseArch(parts[0])
	if err != nil {
		return Platform{}, err
	}
	os := HostPlatform().OS
	switch len(parts) {
	case 1:
	case 2:
		if os, err = ParseOS(parts[1]); err != nil {
			return Platform{}, err
		}
	default:
		// vendor-os[-env] triple: find the first component that is an OS
		found := false
		for _, part := range parts[1:] {
			if part == "apple" {
				os, found = OSDarwin, true
				break
			}
			if parsed, err := ParseOS(part); err == nil {
				os, found = parsed, true
				break
			}
		}
		if !found {
			return Platform{}, fmt.Errorf("unsupported target triple: %s", s)
		}
	}
	return Platform{Arch: arch, OS: os}, nil
}

// canonicalArch replaces a leading architecture alias that contains a dash,
// such as "x86-64", with the LLVM name so the rest splits cleanly
func canonicalArch(s string) string {
	for _, names := range archNames {
		for _, name := range names[1:] {
			if !strings.Contains(name, "-") {
				continue
			}
			if s == name || strings.HasPrefix(s, name+"-") {
				return names[0] + s[len(name):]
			}
		}
	}
	return s
}

// HostPlatform returns the platform for the current runtime
func HostPlatform() Platform {
	arch, err := ParseArch(runtime.GOARCH)
	if err != nil {
		arch = ArchX86_64 // fallback
	}
	os, err := ParseOS(runtime.GOOS)
	if err != nil {
		os = OSLinux // fallback
	}
	return Platform{Arch: arch, OS: os}
}

// HostTriple is the LLVM target triple of the machine the compiler runs on
func HostTriple() string {
	return HostPlatform().Triple()
}
