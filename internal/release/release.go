package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/k8ika0s/xlsbundle/internal/retry"
)

// DefaultAPIURL is the GitHub REST API root.
const DefaultAPIURL = "https://api.github.com"

// Repo is the GitHub repository publishing XLS releases.
const Repo = "xlsynth/xlsynth"

// Request describes a full release download.
type Request struct {
	Tag            string
	Platform       string
	OutputDir      string
	IncludeLibrary bool
	Tools          []string
}

// DownloadRelease installs every tool binary, optionally the shared library,
// and the unpacked DSLX stdlib into req.OutputDir.
func (d *Downloader) DownloadRelease(ctx context.Context, req Request) error {
	if req.OutputDir == "" || req.Platform == "" {
		return fmt.Errorf("output directory and platform are required")
	}
	artifacts, err := BuildArtifacts(req.Tools, req.Tag, req.Platform, req.IncludeLibrary)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return err
	}
	for _, a := range artifacts {
		task := Task{Tag: req.Tag, Filename: a.Filename, IsBinary: a.IsBinary, Platform: req.Platform}
		if _, err := d.Fetch(ctx, task, req.OutputDir); err != nil {
			return err
		}
	}
	archive, err := d.Fetch(ctx, Task{Tag: req.Tag, Filename: StdlibArchive}, req.OutputDir)
	if err != nil {
		return err
	}
	if err := ExtractTarGz(archive, req.OutputDir); err != nil {
		return err
	}
	return os.Remove(archive)
}

// StdlibDir is where DownloadRelease leaves the DSLX stdlib.
func StdlibDir(outputDir string) string {
	return filepath.Join(outputDir, "xls", "dslx", "stdlib")
}

// API queries the GitHub releases API.
type API struct {
	URL    string
	Token  string
	Client *http.Client
}

type latestResponse struct {
	TagName string `json:"tag_name"`
}

// Latest returns the tag of the most recent release.
func (d *Downloader) Latest(ctx context.Context, api API) (string, error) {
	base := api.URL
	if base == "" {
		base = DefaultAPIURL
	}
	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(base, "/"), Repo)
	src := HTTPSource{Token: api.Token, Client: api.Client}
	d.logger().Info("discovering latest release", "token_present", api.Token != "")

	tag, err := retry.Do(ctx, d.policy("releases/latest"), func(ctx context.Context, _ int) (string, error) {
		rc, err := src.get(ctx, url)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		var body latestResponse
		if err := json.NewDecoder(rc).Decode(&body); err != nil {
			return "", fmt.Errorf("decode latest release: %w", err)
		}
		return body.TagName, nil
	})
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(tag, "v") {
		return "", fmt.Errorf("latest release tag %q does not start with 'v'", tag)
	}
	d.logger().Info("latest release discovered", "tag", tag)
	return tag, nil
}
