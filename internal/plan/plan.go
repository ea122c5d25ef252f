package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/k8ika0s/xlsbundle/internal/platform"
	"github.com/k8ika0s/xlsbundle/internal/version"
)

var (
	// ErrConfig marks an invalid combination of source, versions, and
	// local paths. Detected before any I/O.
	ErrConfig = errors.New("invalid artifact configuration")
	// ErrEDAToolsMissing is returned by eda_tools_only when any derived
	// path does not exist.
	ErrEDAToolsMissing = errors.New("eda-tools installation missing")
)

// Source selects the acquisition strategy.
type Source string

const (
	SourceAuto         Source = "auto"
	SourceEDAToolsOnly Source = "eda_tools_only"
	SourceDownloadOnly Source = "download_only"
	SourceLocalPaths   Source = "local_paths"
)

// DefaultEDAToolsRoot is where exact-version installations live.
const DefaultEDAToolsRoot = "/eda-tools"

// Mode is the shape a plan resolved to.
type Mode string

const (
	ModeEDATools   Mode = "eda_tools"
	ModeLocalPaths Mode = "local_paths"
	ModeDownload   Mode = "download"
)

// Plan is either Located or Deferred.
type Plan interface {
	PlanMode() Mode
	isPlan()
}

// Located names four existing artifact paths.
type Located struct {
	Mode       Mode   `json:"mode"`
	ToolsRoot  string `json:"tools_root"`
	StdlibRoot string `json:"dslx_stdlib_root"`
	Driver     string `json:"driver"`
	Libxls     string `json:"libxls"`
}

// Deferred defers acquisition to the download pipeline.
type Deferred struct {
	Mode          Mode   `json:"mode"`
	XLSVersion    string `json:"xls_version"`
	DriverVersion string `json:"driver_version"`
}

func (l Located) PlanMode() Mode { return l.Mode }

func (Located) isPlan() {}

func (d Deferred) PlanMode() Mode { return d.Mode }

func (Deferred) isPlan() {}

// LocalPaths are the explicit overrides accepted by local_paths.
type LocalPaths struct {
	Tools  string
	Stdlib string
	Driver string
	Libxls string
}

func (l LocalPaths) anySet() bool {
	return l.Tools != "" || l.Stdlib != "" || l.Driver != "" || l.Libxls != ""
}

func (l LocalPaths) missing() []string {
	var out []string
	for name, v := range map[string]string{
		"local_tools_path":       l.Tools,
		"local_dslx_stdlib_path": l.Stdlib,
		"local_driver_path":      l.Driver,
		"local_libxls_path":      l.Libxls,
	} {
		if v == "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ExistsFunc reports whether a path exists.
type ExistsFunc func(path string) bool

// PathExists is the filesystem-backed ExistsFunc.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ParseSource validates a source string.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case SourceAuto, SourceEDAToolsOnly, SourceDownloadOnly, SourceLocalPaths:
		return src, nil
	}
	return "", fmt.Errorf("%w: unknown artifact_source %q", ErrConfig, s)
}

// Request is the resolver input.
type Request struct {
	Source        Source
	XLSVersion    string
	DriverVersion string
	Local         LocalPaths
}

// Resolver turns a Request into exactly one Plan.
type Resolver struct {
	// Root of the versioned eda-tools layout. Empty means DefaultEDAToolsRoot.
	Root   string
	Host   platform.Host
	Exists ExistsFunc
}

// Derive returns the deterministic eda-tools paths for a version pair.
func (r Resolver) Derive(xlsVersion, driverVersion string) Located {
	root := r.Root
	if root == "" {
		root = DefaultEDAToolsRoot
	}
	toolsRoot := filepath.Join(root, "xlsynth", version.Tag(xlsVersion))
	return Located{
		Mode:       ModeEDATools,
		ToolsRoot:  toolsRoot,
		StdlibRoot: filepath.Join(toolsRoot, "xls", "dslx", "stdlib"),
		Driver:     filepath.Join(root, "xlsynth-driver", version.Normalize(driverVersion), "bin", "xlsynth-driver"),
		Libxls:     filepath.Join(toolsRoot, r.Host.LibraryName),
	}
}

// Resolve applies the acquisition decision table.
func (r Resolver) Resolve(req Request) (Plan, error) {
	if req.Source == SourceLocalPaths {
		if req.XLSVersion != "" || req.DriverVersion != "" {
			return nil, fmt.Errorf("%w: local_paths does not accept xls_version or xlsynth_driver_version", ErrConfig)
		}
		if missing := req.Local.missing(); len(missing) > 0 {
			return nil, fmt.Errorf("%w: local_paths requires %s", ErrConfig, strings.Join(missing, ", "))
		}
		return Located{
			Mode:       ModeLocalPaths,
			ToolsRoot:  req.Local.Tools,
			StdlibRoot: req.Local.Stdlib,
			Driver:     req.Local.Driver,
			Libxls:     req.Local.Libxls,
		}, nil
	}

	switch req.Source {
	case SourceAuto, SourceEDAToolsOnly, SourceDownloadOnly:
	default:
		return nil, fmt.Errorf("%w: unknown artifact_source %q", ErrConfig, req.Source)
	}
	if req.XLSVersion == "" || req.DriverVersion == "" {
		return nil, fmt.Errorf("%w: %s requires xls_version and xlsynth_driver_version", ErrConfig, req.Source)
	}
	if req.Local.anySet() {
		return nil, fmt.Errorf("%w: %s does not accept local_paths attrs", ErrConfig, req.Source)
	}

	deferred := Deferred{
		Mode:          ModeDownload,
		XLSVersion:    version.Normalize(req.XLSVersion),
		DriverVersion: version.Normalize(req.DriverVersion),
	}
	if req.Source == SourceDownloadOnly {
		return deferred, nil
	}

	if r.Host.LibraryName == "" {
		return nil, fmt.Errorf("%w: no host library name", platform.ErrUnsupported)
	}
	located := r.Derive(req.XLSVersion, req.DriverVersion)
	if r.allExist(located) {
		return located, nil
	}
	if req.Source == SourceEDAToolsOnly {
		return nil, fmt.Errorf("%w: eda_tools_only requires exact-version %s paths for XLS %s and driver %s",
			ErrEDAToolsMissing, r.rootOrDefault(), deferred.XLSVersion, deferred.DriverVersion)
	}
	return deferred, nil
}

// allExist probes every derived path; no short-circuit, so a probe sees
// all four paths.
func (r Resolver) allExist(l Located) bool {
	exists := r.Exists
	if exists == nil {
		exists = PathExists
	}
	ok := true
	for _, p := range []string{l.ToolsRoot, l.StdlibRoot, l.Driver, l.Libxls} {
		if !exists(p) {
			ok = false
		}
	}
	return ok
}

func (r Resolver) rootOrDefault() string {
	if r.Root == "" {
		return DefaultEDAToolsRoot
	}
	return r.Root
}

// RuntimeLibraryPath is the directory holding the shared library.
func RuntimeLibraryPath(libxls string) string {
	return filepath.Dir(libxls)
}
