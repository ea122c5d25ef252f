package bundle

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MetadataFile is written into every materialized repo root.
const MetadataFile = "bundle_metadata.txt"

// Metadata records what the surrounding build needs to know about a bundle.
type Metadata struct {
	// CapabilityKey is the driver_supports_<capability> line name.
	CapabilityKey      string `json:"capability_key"`
	DriverSupports     bool   `json:"driver_supports"`
	LibxlsName         string `json:"libxls_name"`
	RuntimeLibraryPath string `json:"runtime_library_path"`
}

// Encode renders the key=value record.
func (m Metadata) Encode() string {
	return fmt.Sprintf("%s=%t\nlibxls_name=%s\n", m.CapabilityKey, m.DriverSupports, m.LibxlsName)
}

// WriteMetadata persists m into repoRoot.
func WriteMetadata(repoRoot string, m Metadata) error {
	return os.WriteFile(filepath.Join(repoRoot, MetadataFile), []byte(m.Encode()), 0o644)
}

// ReadMetadata parses a metadata file written by WriteMetadata.
func ReadMetadata(repoRoot string) (Metadata, error) {
	f, err := os.Open(filepath.Join(repoRoot, MetadataFile))
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()
	m := Metadata{RuntimeLibraryPath: repoRoot}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch {
		case key == "libxls_name":
			m.LibxlsName = value
		case strings.HasPrefix(key, "driver_supports_"):
			b, err := strconv.ParseBool(value)
			if err != nil {
				return Metadata{}, fmt.Errorf("%s: %s: %w", MetadataFile, key, err)
			}
			m.CapabilityKey = key
			m.DriverSupports = b
		}
	}
	return m, sc.Err()
}
