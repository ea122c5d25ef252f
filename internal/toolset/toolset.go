package toolset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Toolset declares the fixed names a bundle is built from: the tool
// binaries, the driver, the stdlib layout, and the capability probe.
// Values are copied on every accessor so a Toolset can be shared freely.
type Toolset struct {
	binaries       []string
	driverName     string
	stdlibExt      string
	stdlibMarker   string
	probeArgs      []string
	capabilityFlag string
	capabilityName string
}

// File is the on-disk override format. Only the tool binary list can be
// overridden; the driver name is fixed by the crate the installer builds.
type File struct {
	Binaries []string `json:"binaries,omitempty" yaml:"binaries,omitempty"`
}

var defaultBinaries = []string{
	"dslx_interpreter_main",
	"ir_converter_main",
	"codegen_main",
	"opt_main",
	"prove_quickcheck_main",
	"typecheck_main",
	"dslx_fmt",
	"delay_info_main",
	"check_ir_equivalence_main",
}

// Default returns the standard XLS toolset.
func Default() Toolset {
	return Toolset{
		binaries:       append([]string(nil), defaultBinaries...),
		driverName:     "xlsynth-driver",
		stdlibExt:      ".x",
		stdlibMarker:   "std.x",
		probeArgs:      []string{"dslx2sv-types", "--help"},
		capabilityFlag: "--sv_enum_case_naming_policy",
		capabilityName: "sv_enum_case_naming_policy",
	}
}

// WithBinaries returns a copy using the given tool binary names.
func (t Toolset) WithBinaries(names []string) Toolset {
	t.binaries = append([]string(nil), names...)
	return t
}

// Apply overlays non-empty fields of f.
func (t Toolset) Apply(f File) Toolset {
	if len(f.Binaries) > 0 {
		t = t.WithBinaries(f.Binaries)
	}
	return t
}

// Load reads a YAML override file and applies it to the default toolset.
// Unknown keys are rejected.
func Load(path string) (Toolset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Toolset{}, err
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Toolset{}, fmt.Errorf("parse toolset %s: %w", path, err)
	}
	return Default().Apply(f), nil
}

// Binaries returns the tool binary names in bundle order.
func (t Toolset) Binaries() []string { return append([]string(nil), t.binaries...) }

// DriverName is the driver's file name inside the bundle.
func (t Toolset) DriverName() string { return t.driverName }

// StdlibExt is the extension of DSLX stdlib sources.
func (t Toolset) StdlibExt() string { return t.stdlibExt }

// StdlibMarker is the file a stdlib root must hold directly.
func (t Toolset) StdlibMarker() string { return t.stdlibMarker }

// ProbeArgs are the driver arguments used for the capability probe.
func (t Toolset) ProbeArgs() []string { return append([]string(nil), t.probeArgs...) }

// CapabilityFlag is searched for in the probe output.
func (t Toolset) CapabilityFlag() string { return t.capabilityFlag }

// CapabilityKey is the metadata key recording the probe result.
func (t Toolset) CapabilityKey() string { return "driver_supports_" + t.capabilityName }
