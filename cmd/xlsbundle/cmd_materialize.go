package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/k8ika0s/xlsbundle/internal/service"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Resolve artifacts and assemble the bundle in --repo-root",
	RunE:  runMaterialize,
}

func init() {
	addSelectionFlags(materializeCmd.Flags())
}

// addSelectionFlags registers the acquisition flags shared by materialize
// and plan.
func addSelectionFlags(f *pflag.FlagSet) {
	f.String("repo-root", "", "Bundle directory to (re)generate")
	f.String("artifact-source", "", "auto|eda_tools_only|download_only|local_paths")
	f.String("xls-version", "", "XLS release version, e.g. 0.38.0")
	f.String("xlsynth-driver-version", "", "xlsynth-driver crate version")
	f.String("local-tools-path", "", "Directory holding the tool binaries (local_paths)")
	f.String("local-dslx-stdlib-path", "", "DSLX stdlib directory (local_paths)")
	f.String("local-driver-path", "", "xlsynth-driver binary (local_paths)")
	f.String("local-libxls-path", "", "libxls shared library (local_paths)")
	f.String("eda-tools-root", "", "Root of the versioned eda-tools layout")
}

// applySelectionFlags overlays explicitly set flags onto c.
func applySelectionFlags(f *pflag.FlagSet, c service.Config) service.Config {
	for name, dst := range map[string]*string{
		"repo-root":              &c.RepoRoot,
		"artifact-source":        &c.ArtifactSource,
		"xls-version":            &c.XLSVersion,
		"xlsynth-driver-version": &c.DriverVersion,
		"local-tools-path":       &c.LocalTools,
		"local-dslx-stdlib-path": &c.LocalStdlib,
		"local-driver-path":      &c.LocalDriver,
		"local-libxls-path":      &c.LocalLibxls,
		"eda-tools-root":         &c.EDAToolsRoot,
	} {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	return c
}

func runMaterialize(cmd *cobra.Command, _ []string) error {
	c := applySelectionFlags(cmd.Flags(), cfg)
	if c.RepoRoot == "" {
		return fmt.Errorf("--repo-root is required")
	}
	svc, err := service.Build(c)
	if err != nil {
		return err
	}
	defer svc.Close()
	md, err := svc.Run(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bundle:   %s\n", c.RepoRoot)
	fmt.Fprintf(out, "libxls:   %s\n", md.LibxlsName)
	fmt.Fprintf(out, "%s=%t\n", md.CapabilityKey, md.DriverSupports)
	return nil
}
