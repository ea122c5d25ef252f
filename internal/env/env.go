// Package env builds the environment overlays used to run the driver and
// the driver installer.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/k8ika0s/xlsbundle/internal/platform"
)

const (
	DSOPathVar    = "XLS_DSO_PATH"
	StdlibPathVar = "DSLX_STDLIB_PATH"

	CargoHomeVar   = "CARGO_HOME"
	RustupHomeVar  = "RUSTUP_HOME"
	CargoTargetVar = "CARGO_TARGET_DIR"
)

// Env is an ordered set of variables. Set on an existing key keeps its
// position.
type Env struct {
	keys []string
	vals map[string]string
}

// New returns an empty Env.
func New() *Env {
	return &Env{vals: map[string]string{}}
}

// FromList parses KEY=VALUE entries such as os.Environ. Later duplicates win.
func FromList(list []string) *Env {
	e := New()
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		e.Set(k, v)
	}
	return e
}

// Set assigns key, keeping its original position if already present.
func (e *Env) Set(key, value string) {
	if _, ok := e.vals[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.vals[key] = value
}

// Get returns the value of key and whether it is set.
func (e *Env) Get(key string) (string, bool) {
	v, ok := e.vals[key]
	return v, ok
}

// Keys returns variable names in insertion order.
func (e *Env) Keys() []string {
	return append([]string(nil), e.keys...)
}

// List renders KEY=VALUE entries for exec.Cmd.Env.
func (e *Env) List() []string {
	out := make([]string, 0, len(e.keys))
	for _, k := range e.keys {
		out = append(out, k+"="+e.vals[k])
	}
	return out
}

// Prepend puts dir in front of the list variable key.
func (e *Env) Prepend(key, dir string) {
	if cur, ok := e.vals[key]; ok && cur != "" {
		e.Set(key, dir+string(os.PathListSeparator)+cur)
		return
	}
	e.Set(key, dir)
}

// Driver returns base plus the runtime library search path, XLS_DSO_PATH,
// and DSLX_STDLIB_PATH needed to run the driver against libPath.
func Driver(libPath, stdlibPath string, base []string, hostOS platform.OS) (*Env, error) {
	host, err := platform.Lookup(string(hostOS))
	if err != nil {
		return nil, err
	}
	e := FromList(base)
	e.Prepend(host.SearchPathVar, filepath.Dir(libPath))
	e.Set(DSOPathVar, libPath)
	e.Set(StdlibPathVar, stdlibPath)
	return e, nil
}

// InstallDirs are the scratch directories a driver install owns under the
// repo root.
type InstallDirs struct {
	Root       string
	CargoHome  string
	RustupHome string
	Target     string
}

// NewInstallDirs places the scratch directories under repoRoot.
func NewInstallDirs(repoRoot string) InstallDirs {
	return InstallDirs{
		Root:       filepath.Join(repoRoot, "_cargo_driver"),
		CargoHome:  filepath.Join(repoRoot, "_cargo_home"),
		RustupHome: filepath.Join(repoRoot, "_rustup_home"),
		Target:     filepath.Join(repoRoot, "_cargo_target"),
	}
}

// All lists every directory in creation order.
func (d InstallDirs) All() []string {
	return []string{d.Root, d.CargoHome, d.RustupHome, d.Target}
}

// Install layers the toolchain home directories over the driver environment.
func Install(repoRoot, libPath, stdlibPath string, base []string, hostOS platform.OS) (*Env, error) {
	if repoRoot == "" {
		return nil, fmt.Errorf("repo root required")
	}
	e, err := Driver(libPath, stdlibPath, base, hostOS)
	if err != nil {
		return nil, err
	}
	dirs := NewInstallDirs(repoRoot)
	e.Set(CargoHomeVar, dirs.CargoHome)
	e.Set(RustupHomeVar, dirs.RustupHome)
	e.Set(CargoTargetVar, dirs.Target)
	return e, nil
}
