package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// BundleKey identifies the inputs of one materialized bundle. Paths are
// only set for located plans; versions only for eda-tools and download.
type BundleKey struct {
	Mode          string   `json:"mode"`
	HostOS        string   `json:"host_os"`
	XLSVersion    string   `json:"xls_version,omitempty"`
	DriverVersion string   `json:"driver_version,omitempty"`
	ToolsRoot     string   `json:"tools_root,omitempty"`
	StdlibRoot    string   `json:"dslx_stdlib_root,omitempty"`
	Driver        string   `json:"driver,omitempty"`
	Libxls        string   `json:"libxls,omitempty"`
	Binaries      []string `json:"binaries,omitempty"`
}

// Digest computes a stable content digest for the bundle key. Binary order
// does not matter.
func (k BundleKey) Digest() string {
	sorted := k
	if len(sorted.Binaries) > 1 {
		names := append([]string(nil), sorted.Binaries...)
		sort.Strings(names)
		sorted.Binaries = names
	}
	return digestStruct(sorted)
}

// Short returns the first 12 hex characters of the digest.
func (k BundleKey) Short() string {
	d := k.Digest()
	return d[len("sha256:") : len("sha256:")+12]
}

func digestStruct(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
