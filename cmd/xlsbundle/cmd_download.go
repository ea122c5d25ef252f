package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k8ika0s/xlsbundle/internal/logging"
	"github.com/k8ika0s/xlsbundle/internal/platform"
	"github.com/k8ika0s/xlsbundle/internal/release"
)

var downloadFlags struct {
	version     string
	output      string
	platform    string
	dso         bool
	maxAttempts int
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and verify one XLS release",
	RunE:  runDownload,
}

func init() {
	f := downloadCmd.Flags()
	f.StringVarP(&downloadFlags.version, "version", "v", "", "Release tag, e.g. v0.38.0 (default: latest)")
	f.StringVarP(&downloadFlags.output, "output", "o", "", "Output directory (required)")
	f.StringVarP(&downloadFlags.platform, "platform", "p", "", "Release platform (default: detected)")
	f.BoolVarP(&downloadFlags.dso, "dso", "d", false, "Also download the libxls shared library")
	f.IntVar(&downloadFlags.maxAttempts, "max-attempts", 0, "Attempts per request (default from config)")

	_ = downloadCmd.MarkFlagRequired("output")
}

func runDownload(cmd *cobra.Command, _ []string) error {
	c := cfg
	if downloadFlags.maxAttempts > 0 {
		c.MaxAttempts = downloadFlags.maxAttempts
	}
	ts, err := c.Toolset()
	if err != nil {
		return err
	}
	src, err := c.ReleaseSource()
	if err != nil {
		return err
	}
	target := downloadFlags.platform
	if target == "" {
		if target, err = (platform.Detector{}).Detect(); err != nil {
			return err
		}
	}
	if _, err := platform.LibraryExt(target); err != nil {
		return err
	}
	d := &release.Downloader{Source: src, MaxAttempts: c.MaxAttempts, Logger: logging.New("release")}
	tag := downloadFlags.version
	if tag == "" {
		api := release.API{URL: c.GitHubAPIURL, Token: c.GitHubToken, Client: c.HTTPClient()}
		if tag, err = d.Latest(cmd.Context(), api); err != nil {
			return err
		}
	}
	err = d.DownloadRelease(cmd.Context(), release.Request{
		Tag:            tag,
		Platform:       target,
		OutputDir:      downloadFlags.output,
		IncludeLibrary: downloadFlags.dso,
		Tools:          ts.Binaries(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s (%s) into %s\n", tag, target, downloadFlags.output)
	return nil
}
