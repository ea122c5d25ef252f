// Package driver installs a pinned xlsynth-driver through an isolated rustup
// toolchain.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/k8ika0s/xlsbundle/internal/env"
	"github.com/k8ika0s/xlsbundle/internal/linkfs"
	"github.com/k8ika0s/xlsbundle/internal/logging"
	"github.com/k8ika0s/xlsbundle/internal/platform"
	"github.com/k8ika0s/xlsbundle/internal/runner"
	"github.com/k8ika0s/xlsbundle/internal/version"
)

// ErrToolchainMissing is returned when rustup is not on PATH.
var ErrToolchainMissing = errors.New("rustup not found")

const (
	Channel = "nightly"
	Profile = "minimal"
	Crate   = "xlsynth-driver"
)

// ToolchainProbeCommand checks whether the channel is already installed.
func ToolchainProbeCommand(rustup string, e *env.Env) runner.Command {
	return runner.Command{Path: rustup, Args: []string{"run", Channel, "cargo", "--version"}, Env: e.List()}
}

// ToolchainInstallCommand installs the channel with the minimal profile.
func ToolchainInstallCommand(rustup string, e *env.Env) runner.Command {
	return runner.Command{Path: rustup, Args: []string{"toolchain", "install", Channel, "--profile", Profile}, Env: e.List()}
}

// InstallCommand runs a locked, exact-version cargo install into root.
func InstallCommand(rustup, root, driverVersion string, e *env.Env) runner.Command {
	return runner.Command{
		Path: rustup,
		Args: []string{
			"run", Channel, "cargo", "install",
			"--locked",
			"--root", root,
			"--version", version.Normalize(driverVersion),
			Crate,
		},
		Env: e.List(),
	}
}

// Installer bootstraps rustup under a repo root and installs the driver.
type Installer struct {
	Runner runner.Runner
	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	HostOS   platform.OS
	// Environ defaults to os.Environ.
	Environ func() []string
	Logger  *slog.Logger
}

func (i *Installer) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return logging.New("driver")
}

// Install returns the path of a runnable driver binary of driverVersion
// built against libPath and stdlibPath.
func (i *Installer) Install(ctx context.Context, repoRoot, driverVersion, libPath, stdlibPath string) (string, error) {
	lookPath := i.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	rustup, err := lookPath("rustup")
	if err != nil {
		return "", fmt.Errorf("%w: installing %s %s requires rustup on PATH", ErrToolchainMissing, Crate, version.Normalize(driverVersion))
	}

	dirs := env.NewInstallDirs(repoRoot)
	for _, dir := range dirs.All() {
		if err := linkfs.EnsureClean(dir); err != nil {
			return "", err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	environ := i.Environ
	if environ == nil {
		environ = os.Environ
	}
	e, err := env.Install(repoRoot, libPath, stdlibPath, environ(), i.HostOS)
	if err != nil {
		return "", err
	}

	log := i.logger()
	if _, err := i.Runner.Run(ctx, ToolchainProbeCommand(rustup, e)); err != nil {
		log.Info("installing rust toolchain", "channel", Channel, "profile", Profile)
		if _, err := i.Runner.Run(ctx, ToolchainInstallCommand(rustup, e)); err != nil {
			return "", fmt.Errorf("install %s toolchain: %w", Channel, err)
		}
	}

	log.Info("installing driver", "version", version.Normalize(driverVersion), "root", dirs.Root)
	if _, err := i.Runner.Run(ctx, InstallCommand(rustup, dirs.Root, driverVersion, e)); err != nil {
		return "", fmt.Errorf("cargo install %s: %w", Crate, err)
	}

	driverPath := filepath.Join(dirs.Root, "bin", Crate)
	res, err := i.Runner.Run(ctx, runner.Command{Path: driverPath, Args: []string{"--version"}, Env: e.List()})
	if err != nil {
		return "", fmt.Errorf("installed %s is not runnable at %s: %w", Crate, driverPath, err)
	}
	log.Info("driver installed", "path", driverPath, "version_output", res.Stdout)
	return driverPath, nil
}
