// Package bundle materializes a resolved plan into a repo root: tool
// binaries, stdlib sources, the driver, and the shared library.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/k8ika0s/xlsbundle/internal/env"
	"github.com/k8ika0s/xlsbundle/internal/linkfs"
	"github.com/k8ika0s/xlsbundle/internal/logging"
	"github.com/k8ika0s/xlsbundle/internal/plan"
	"github.com/k8ika0s/xlsbundle/internal/platform"
	"github.com/k8ika0s/xlsbundle/internal/release"
	"github.com/k8ika0s/xlsbundle/internal/runner"
	"github.com/k8ika0s/xlsbundle/internal/toolset"
	"github.com/k8ika0s/xlsbundle/internal/version"
)

// ErrStdlib marks an unusable DSLX stdlib root.
var ErrStdlib = errors.New("invalid DSLX stdlib root")

// DownloadDir is where download mode stages release assets.
const DownloadDir = "_downloaded_xls"

// Downloader fetches a full release into a directory.
type Downloader interface {
	DownloadRelease(ctx context.Context, req release.Request) error
}

// DriverInstaller produces a runnable driver binary.
type DriverInstaller interface {
	Install(ctx context.Context, repoRoot, driverVersion, libPath, stdlibPath string) (string, error)
}

// Resolved names the concrete sources a bundle is built from.
type Resolved struct {
	ToolsRoot  string
	StdlibRoot string
	Driver     string
	Libxls     string
}

// Materializer assembles bundles. It assumes exclusive ownership of the
// repo root for the duration of a call.
type Materializer struct {
	Toolset  toolset.Toolset
	Host     platform.Host
	Detector platform.Detector
	Runner   runner.Runner
	// Environ defaults to os.Environ.
	Environ    func() []string
	Downloader Downloader
	Installer  DriverInstaller
	Linker     linkfs.Linker
	Logger     *slog.Logger
}

func (m *Materializer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return logging.New("bundle")
}

func (m *Materializer) environ() []string {
	if m.Environ != nil {
		return m.Environ()
	}
	return os.Environ()
}

// Materialize regenerates every managed entry of repoRoot from p and
// records the bundle metadata.
func (m *Materializer) Materialize(ctx context.Context, repoRoot string, p plan.Plan) (Metadata, error) {
	if m.Host.LibraryName == "" {
		return Metadata{}, fmt.Errorf("%w: no host strategy configured", platform.ErrUnsupported)
	}
	if err := os.MkdirAll(repoRoot, 0o755); err != nil {
		return Metadata{}, err
	}
	log := m.logger().With("repo_root", repoRoot, "mode", p.PlanMode())

	var driverDest, libDest string
	switch p := p.(type) {
	case plan.Deferred:
		resolved, err := m.download(ctx, repoRoot, p.XLSVersion)
		if err != nil {
			return Metadata{}, err
		}
		if err := m.linkTools(resolved.ToolsRoot, repoRoot); err != nil {
			return Metadata{}, err
		}
		if err := m.linkStdlib(resolved.StdlibRoot, repoRoot); err != nil {
			return Metadata{}, err
		}
		libDest = filepath.Join(repoRoot, m.Host.LibraryName)
		if err := linkfs.EnsureClean(libDest); err != nil {
			return Metadata{}, err
		}
		if err := linkfs.CopyPath(resolved.Libxls, libDest); err != nil {
			return Metadata{}, fmt.Errorf("copy %s: %w", resolved.Libxls, err)
		}
		if err := m.patchInstallName(ctx, libDest); err != nil {
			return Metadata{}, err
		}
		if m.Installer == nil {
			return Metadata{}, fmt.Errorf("download mode requires a driver installer")
		}
		driverPath, err := m.Installer.Install(ctx, repoRoot, p.DriverVersion, libDest, repoRoot)
		if err != nil {
			return Metadata{}, err
		}
		driverDest, err = m.place(driverPath, filepath.Join(repoRoot, m.Toolset.DriverName()))
		if err != nil {
			return Metadata{}, err
		}
	case plan.Located:
		if err := ValidateStdlibRoot(p.StdlibRoot, m.Toolset.StdlibMarker()); err != nil {
			return Metadata{}, err
		}
		if err := m.linkTools(p.ToolsRoot, repoRoot); err != nil {
			return Metadata{}, err
		}
		if err := m.linkStdlib(p.StdlibRoot, repoRoot); err != nil {
			return Metadata{}, err
		}
		var err error
		if driverDest, err = m.place(p.Driver, filepath.Join(repoRoot, m.Toolset.DriverName())); err != nil {
			return Metadata{}, err
		}
		if libDest, err = m.place(p.Libxls, filepath.Join(repoRoot, m.Host.LibraryName)); err != nil {
			return Metadata{}, err
		}
	default:
		return Metadata{}, fmt.Errorf("unknown plan type %T", p)
	}

	supports, err := m.ProbeCapability(ctx, driverDest, libDest, repoRoot)
	if err != nil {
		return Metadata{}, err
	}
	md := Metadata{
		CapabilityKey:      m.Toolset.CapabilityKey(),
		DriverSupports:     supports,
		LibxlsName:         filepath.Base(libDest),
		RuntimeLibraryPath: plan.RuntimeLibraryPath(libDest),
	}
	if err := WriteMetadata(repoRoot, md); err != nil {
		return Metadata{}, err
	}
	log.Info("bundle materialized", "libxls", md.LibxlsName, md.CapabilityKey, supports)
	return md, nil
}

// download stages the release under repoRoot/_downloaded_xls.
func (m *Materializer) download(ctx context.Context, repoRoot, xlsVersion string) (Resolved, error) {
	if m.Downloader == nil {
		return Resolved{}, fmt.Errorf("download mode requires a release downloader")
	}
	releasePlatform, err := m.Detector.Detect()
	if err != nil {
		return Resolved{}, err
	}
	dir := filepath.Join(repoRoot, DownloadDir)
	if err := linkfs.EnsureClean(dir); err != nil {
		return Resolved{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Resolved{}, err
	}
	m.logger().Info("downloading release", "tag", version.Tag(xlsVersion), "platform", releasePlatform)
	err = m.Downloader.DownloadRelease(ctx, release.Request{
		Tag:            version.Tag(xlsVersion),
		Platform:       releasePlatform,
		OutputDir:      dir,
		IncludeLibrary: true,
		Tools:          m.Toolset.Binaries(),
	})
	if err != nil {
		return Resolved{}, err
	}
	stdlib := release.StdlibDir(dir)
	if err := ValidateStdlibRoot(stdlib, m.Toolset.StdlibMarker()); err != nil {
		return Resolved{}, err
	}
	lib, err := FindLibrary(dir)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{ToolsRoot: dir, StdlibRoot: stdlib, Libxls: lib}, nil
}

// FindLibrary returns the single libxls-* shared library in dir.
func FindLibrary(dir string) (string, error) {
	var found []string
	for _, pattern := range []string{"libxls-*.so", "libxls-*.dylib"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", err
		}
		sort.Strings(matches)
		found = append(found, matches...)
	}
	if len(found) != 1 {
		return "", fmt.Errorf("expected exactly one libxls artifact in %s, found %d: [%s]", dir, len(found), strings.Join(found, ", "))
	}
	return found[0], nil
}

// ValidateStdlibRoot requires root to be a directory holding marker directly.
func ValidateStdlibRoot(root, marker string) error {
	info, err := os.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s does not exist", ErrStdlib, root)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStdlib, root)
	}
	if _, err := os.Stat(filepath.Join(root, marker)); err != nil {
		return fmt.Errorf("%w: %s must contain %s directly", ErrStdlib, root, marker)
	}
	return nil
}

func (m *Materializer) place(src, dst string) (string, error) {
	method, err := m.Linker.SymlinkOrCopy(src, dst)
	if err != nil {
		return "", err
	}
	m.logger().Debug("placed", "src", src, "dst", dst, "method", method)
	return dst, nil
}

func (m *Materializer) linkTools(toolsRoot, repoRoot string) error {
	for _, name := range m.Toolset.Binaries() {
		src := filepath.Join(toolsRoot, name)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("expected tool binary at %s: %w", src, err)
		}
		if _, err := m.place(src, filepath.Join(repoRoot, name)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Materializer) linkStdlib(stdlibRoot, repoRoot string) error {
	if err := ValidateStdlibRoot(stdlibRoot, m.Toolset.StdlibMarker()); err != nil {
		return err
	}
	entries, err := os.ReadDir(stdlibRoot)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), m.Toolset.StdlibExt()) {
			continue
		}
		if _, err := m.place(filepath.Join(stdlibRoot, entry.Name()), filepath.Join(repoRoot, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// patchInstallName points a Darwin dylib's install id at its own path.
func (m *Materializer) patchInstallName(ctx context.Context, lib string) error {
	if m.Host.OS != platform.Darwin {
		return nil
	}
	_, err := m.Runner.Run(ctx, runner.Command{Path: "install_name_tool", Args: []string{"-id", lib, lib}})
	if err != nil {
		return fmt.Errorf("patch install name of %s: %w", lib, err)
	}
	return nil
}

// ProbeCapability runs the driver's help subcommand and reports whether the
// capability flag appears in its output.
func (m *Materializer) ProbeCapability(ctx context.Context, driver, lib, stdlib string) (bool, error) {
	e, err := env.Driver(lib, stdlib, m.environ(), m.Host.OS)
	if err != nil {
		return false, err
	}
	res, err := m.Runner.Run(ctx, runner.Command{Path: driver, Args: m.Toolset.ProbeArgs(), Env: e.List()})
	if err != nil {
		return false, fmt.Errorf("inspect %s capability at %s: %w", m.Toolset.DriverName(), driver, err)
	}
	return strings.Contains(res.Stdout+"\n"+res.Stderr, m.Toolset.CapabilityFlag()), nil
}
