package release

import (
	"fmt"

	"github.com/k8ika0s/xlsbundle/internal/platform"
	"github.com/k8ika0s/xlsbundle/internal/version"
)

// StdlibArchive is the release asset carrying the DSLX standard library.
const StdlibArchive = "dslx_stdlib.tar.gz"

// Artifact is one release asset to fetch.
type Artifact struct {
	Filename string `json:"filename"`
	IsBinary bool   `json:"is_binary"`
}

// BinaryFilename returns the platform-suffixed asset name of a tool binary.
func BinaryFilename(name, releasePlatform string) string {
	return name + "-" + releasePlatform
}

// LibraryFilename returns the shared-library asset name. Releases at or
// after version.GzipLibraryCutover ship it gzip-compressed.
func LibraryFilename(releasePlatform string, rel version.Release) (string, error) {
	ext, err := platform.LibraryExt(releasePlatform)
	if err != nil {
		return "", err
	}
	name := "libxls-" + releasePlatform + ext
	if rel.AtLeast(version.GzipLibraryCutover) {
		name += ".gz"
	}
	return name, nil
}

// BuildArtifacts enumerates the assets of a release: one binary per tool
// and, when includeLibrary is set, the shared library.
func BuildArtifacts(tools []string, tag, releasePlatform string, includeLibrary bool) ([]Artifact, error) {
	rel, err := version.ParseReleaseTag(tag)
	if err != nil {
		return nil, err
	}
	if _, err := platform.LibraryExt(releasePlatform); err != nil {
		return nil, err
	}
	out := make([]Artifact, 0, len(tools)+1)
	for _, name := range tools {
		out = append(out, Artifact{Filename: BinaryFilename(name, releasePlatform), IsBinary: true})
	}
	if includeLibrary {
		lib, err := LibraryFilename(releasePlatform, rel)
		if err != nil {
			return nil, fmt.Errorf("library asset: %w", err)
		}
		out = append(out, Artifact{Filename: lib})
	}
	return out, nil
}
