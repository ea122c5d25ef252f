// Package platform holds the host strategy table: per host OS, the
// canonical shared-library name and the runtime library search variable,
// plus detection of the prebuilt release variant for the running machine.
package platform

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
)

// ErrUnsupported is returned for host OSes, architectures, or release
// platforms outside the supported matrix.
var ErrUnsupported = errors.New("unsupported platform")

// OS is a normalized host operating system.
type OS string

const (
	Darwin OS = "darwin"
	Linux  OS = "linux"
)

// Host describes how artifacts are named and loaded on one host OS.
type Host struct {
	OS            OS
	LibraryName   string
	SearchPathVar string
}

var hosts = map[OS]Host{
	Darwin: {OS: Darwin, LibraryName: "libxls.dylib", SearchPathVar: "DYLD_LIBRARY_PATH"},
	Linux:  {OS: Linux, LibraryName: "libxls.so", SearchPathVar: "LD_LIBRARY_PATH"},
}

// Lookup returns the strategy for the given GOOS value.
func Lookup(goos string) (Host, error) {
	h, ok := hosts[OS(goos)]
	if !ok {
		return Host{}, fmt.Errorf("%w: host platform %q", ErrUnsupported, goos)
	}
	return h, nil
}

// Current returns the strategy for the running host.
func Current() (Host, error) {
	return Lookup(runtime.GOOS)
}

// releaseLibraryExt maps prebuilt release platform names to the extension
// of the shared library published for them.
var releaseLibraryExt = map[string]string{
	"ubuntu2004": ".so",
	"ubuntu2204": ".so",
	"rocky8":     ".so",
	"arm64":      ".dylib",
	"x64":        ".so",
}

// LibraryExt returns the shared-library extension published for a
// release platform.
func LibraryExt(releasePlatform string) (string, error) {
	ext, ok := releaseLibraryExt[releasePlatform]
	if !ok {
		return "", fmt.Errorf("%w: release platform %q (supported: %s)", ErrUnsupported, releasePlatform, strings.Join(ReleasePlatforms(), ", "))
	}
	return ext, nil
}

// ReleasePlatforms lists the known release platform names, sorted.
func ReleasePlatforms() []string {
	out := make([]string, 0, len(releaseLibraryExt))
	for k := range releaseLibraryExt {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const osReleasePath = "/etc/os-release"

var rhelMarkers = []string{"rocky", "rhel", "almalinux", "centos"}

// Detector picks the release platform for a host. Zero-value fields fall
// back to the running machine.
type Detector struct {
	GOOS      string
	GOARCH    string
	OSRelease func() ([]byte, error)
}

// Detect returns the release platform name to download for this host.
func (d Detector) Detect() (string, error) {
	goos, goarch := d.GOOS, d.GOARCH
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	switch OS(goos) {
	case Darwin:
		switch goarch {
		case "arm64":
			return "arm64", nil
		case "amd64":
			return "x64", nil
		}
		return "", fmt.Errorf("%w: macOS architecture %q", ErrUnsupported, goarch)
	case Linux:
		if goarch != "amd64" {
			return "", fmt.Errorf("%w: Linux architecture %q", ErrUnsupported, goarch)
		}
		read := d.OSRelease
		if read == nil {
			read = func() ([]byte, error) { return os.ReadFile(osReleasePath) }
		}
		data, err := read()
		if err == nil {
			lower := strings.ToLower(string(data))
			for _, m := range rhelMarkers {
				if strings.Contains(lower, m) {
					return "rocky8", nil
				}
			}
		}
		return "ubuntu2004", nil
	}
	return "", fmt.Errorf("%w: host platform %q", ErrUnsupported, goos)
}
