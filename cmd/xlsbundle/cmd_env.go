package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/k8ika0s/xlsbundle/internal/env"
	"github.com/k8ika0s/xlsbundle/internal/platform"
)

var envFlags struct {
	libxls  string
	stdlib  string
	install string
	full    bool
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the environment overlay for running the driver",
	RunE:  runEnv,
}

func init() {
	f := envCmd.Flags()
	f.StringVar(&envFlags.libxls, "libxls", "", "Path to the shared library (required)")
	f.StringVar(&envFlags.stdlib, "stdlib", "", "DSLX stdlib directory (required)")
	f.StringVar(&envFlags.install, "install-root", "", "Also pin toolchain homes under this repo root")
	f.BoolVar(&envFlags.full, "full", false, "Print the inherited environment too")

	_ = envCmd.MarkFlagRequired("libxls")
	_ = envCmd.MarkFlagRequired("stdlib")
}

func runEnv(cmd *cobra.Command, _ []string) error {
	host, err := platform.Current()
	if err != nil {
		return err
	}
	base := os.Environ()
	var e *env.Env
	if envFlags.install != "" {
		e, err = env.Install(envFlags.install, envFlags.libxls, envFlags.stdlib, base, host.OS)
	} else {
		e, err = env.Driver(envFlags.libxls, envFlags.stdlib, base, host.OS)
	}
	if err != nil {
		return err
	}
	inherited := env.FromList(base)
	out := cmd.OutOrStdout()
	for _, k := range e.Keys() {
		v, _ := e.Get(k)
		if old, ok := inherited.Get(k); ok && old == v && !envFlags.full {
			continue
		}
		fmt.Fprintf(out, "%s=%s\n", k, v)
	}
	return nil
}
