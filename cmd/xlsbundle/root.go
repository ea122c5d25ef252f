package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/k8ika0s/xlsbundle/internal/logging"
	"github.com/k8ika0s/xlsbundle/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config    string
	logLevel  string
	logFormat string
}

// cfg is loaded before any subcommand runs.
var cfg service.Config

var rootCmd = &cobra.Command{
	Use:   "xlsbundle",
	Short: "Materialize XLS toolchain bundles",
	Long:  "xlsbundle locates, downloads, verifies, and assembles the XLS tools,\nDSLX stdlib, xlsynth-driver, and libxls into a single bundle directory.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.config, "config", "", "YAML config file")
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "debug|info|warn|error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "text|json")

	rootCmd.AddCommand(materializeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.Version = version
}

func setup(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(rootFlags.logLevel)
	if err != nil {
		return err
	}
	logging.Init(level, rootFlags.logFormat, cmd.ErrOrStderr())
	cfg, err = service.Load(rootFlags.config)
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
