package service

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/k8ika0s/xlsbundle/internal/events"
	"github.com/k8ika0s/xlsbundle/internal/objectstore"
	"github.com/k8ika0s/xlsbundle/internal/plan"
	"github.com/k8ika0s/xlsbundle/internal/release"
	"github.com/k8ika0s/xlsbundle/internal/toolset"
)

// MirrorConfig points release downloads at an S3-compatible bucket.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Config holds materialization settings. Precedence, lowest first:
// DefaultConfig, LoadFile, ApplyEnv, then CLI flags.
type Config struct {
	RepoRoot       string `yaml:"repo_root"`
	ArtifactSource string `yaml:"artifact_source"`
	XLSVersion     string `yaml:"xls_version"`
	DriverVersion  string `yaml:"xlsynth_driver_version"`
	LocalTools     string `yaml:"local_tools_path"`
	LocalStdlib    string `yaml:"local_dslx_stdlib_path"`
	LocalDriver    string `yaml:"local_driver_path"`
	LocalLibxls    string `yaml:"local_libxls_path"`
	EDAToolsRoot   string `yaml:"eda_tools_root"`

	ReleaseBaseURL   string `yaml:"release_base_url"`
	GitHubAPIURL     string `yaml:"github_api_url"`
	GitHubToken      string `yaml:"-"`
	MaxAttempts      int    `yaml:"max_attempts"`
	// HTTPTimeoutSec bounds dialing, the TLS handshake and the wait for
	// response headers. Body reads are not bounded.
	HTTPTimeoutSec   int    `yaml:"http_timeout_sec"`
	RunnerTimeoutSec int    `yaml:"runner_timeout_sec"`

	ToolsetFile string   `yaml:"toolset_file"`
	Binaries    []string `yaml:"binaries"`

	Mirror MirrorConfig  `yaml:"mirror"`
	Events events.Config `yaml:"events"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		ArtifactSource:   string(plan.SourceAuto),
		EDAToolsRoot:     plan.DefaultEDAToolsRoot,
		ReleaseBaseURL:   release.DefaultBaseURL,
		GitHubAPIURL:     release.DefaultAPIURL,
		MaxAttempts:      release.DefaultMaxAttempts,
		HTTPTimeoutSec:   60,
		RunnerTimeoutSec: 3600,
		Events:           events.Config{Backend: "none", RedisKey: "xlsbundle:events", KafkaTopic: "xlsbundle.events"},
	}
}

// LoadFile overlays a YAML config file onto c.
func (c Config) LoadFile(path string) (Config, error) {
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv overlays XLSBUNDLE_* variables and GH_PAT onto c.
func (c Config) ApplyEnv() Config {
	c.RepoRoot = getenv("XLSBUNDLE_REPO_ROOT", c.RepoRoot)
	c.ArtifactSource = getenv("XLSBUNDLE_ARTIFACT_SOURCE", c.ArtifactSource)
	c.XLSVersion = getenv("XLSBUNDLE_XLS_VERSION", c.XLSVersion)
	c.DriverVersion = getenv("XLSBUNDLE_DRIVER_VERSION", c.DriverVersion)
	c.EDAToolsRoot = getenv("XLSBUNDLE_EDA_TOOLS_ROOT", c.EDAToolsRoot)
	c.ReleaseBaseURL = getenv("XLSBUNDLE_RELEASE_BASE_URL", c.ReleaseBaseURL)
	c.GitHubAPIURL = getenv("XLSBUNDLE_GITHUB_API_URL", c.GitHubAPIURL)
	c.GitHubToken = getenv("GH_PAT", c.GitHubToken)
	c.MaxAttempts = getenvInt("XLSBUNDLE_MAX_ATTEMPTS", c.MaxAttempts)
	c.HTTPTimeoutSec = getenvInt("XLSBUNDLE_HTTP_TIMEOUT_SEC", c.HTTPTimeoutSec)
	c.RunnerTimeoutSec = getenvInt("XLSBUNDLE_RUNNER_TIMEOUT_SEC", c.RunnerTimeoutSec)
	c.ToolsetFile = getenv("XLSBUNDLE_TOOLSET_FILE", c.ToolsetFile)
	if v := parseList(os.Getenv("XLSBUNDLE_BINARIES")); len(v) > 0 {
		c.Binaries = v
	}

	c.Mirror.Endpoint = getenv("XLSBUNDLE_MIRROR_ENDPOINT", c.Mirror.Endpoint)
	c.Mirror.Bucket = getenv("XLSBUNDLE_MIRROR_BUCKET", c.Mirror.Bucket)
	c.Mirror.AccessKey = getenv("XLSBUNDLE_MIRROR_ACCESS_KEY", c.Mirror.AccessKey)
	c.Mirror.SecretKey = getenv("XLSBUNDLE_MIRROR_SECRET_KEY", c.Mirror.SecretKey)
	c.Mirror.UseSSL = getenvBool("XLSBUNDLE_MIRROR_USE_SSL", c.Mirror.UseSSL)
	c.Mirror.Prefix = getenv("XLSBUNDLE_MIRROR_PREFIX", c.Mirror.Prefix)

	c.Events.Backend = getenv("XLSBUNDLE_EVENTS_BACKEND", c.Events.Backend)
	c.Events.FilePath = getenv("XLSBUNDLE_EVENTS_FILE", c.Events.FilePath)
	c.Events.RedisURL = getenv("REDIS_URL", c.Events.RedisURL)
	c.Events.RedisKey = getenv("REDIS_KEY", c.Events.RedisKey)
	c.Events.KafkaBrokers = getenv("KAFKA_BROKERS", c.Events.KafkaBrokers)
	c.Events.KafkaTopic = getenv("KAFKA_TOPIC", c.Events.KafkaTopic)
	c.Events.ReporterURL = getenv("XLSBUNDLE_REPORTER_URL", c.Events.ReporterURL)
	c.Events.ReporterToken = getenv("XLSBUNDLE_REPORTER_TOKEN", c.Events.ReporterToken)
	return c
}

// Load applies defaults, the optional file at path, and the environment.
func Load(path string) (Config, error) {
	cfg, err := DefaultConfig().LoadFile(path)
	if err != nil {
		return cfg, err
	}
	return cfg.ApplyEnv(), nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		}
	}
	return def
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

// Request converts the acquisition settings into a resolver request.
func (c Config) Request() (plan.Request, error) {
	src, err := plan.ParseSource(c.ArtifactSource)
	if err != nil {
		return plan.Request{}, err
	}
	return plan.Request{
		Source:        src,
		XLSVersion:    c.XLSVersion,
		DriverVersion: c.DriverVersion,
		Local: plan.LocalPaths{
			Tools:  c.LocalTools,
			Stdlib: c.LocalStdlib,
			Driver: c.LocalDriver,
			Libxls: c.LocalLibxls,
		},
	}, nil
}

// Toolset loads the optional toolset file and applies Binaries on top.
func (c Config) Toolset() (toolset.Toolset, error) {
	ts := toolset.Default()
	if c.ToolsetFile != "" {
		var err error
		if ts, err = toolset.Load(c.ToolsetFile); err != nil {
			return toolset.Toolset{}, err
		}
	}
	if len(c.Binaries) > 0 {
		ts = ts.WithBinaries(c.Binaries)
	}
	return ts, nil
}

// ObjectStore builds a mirror client if configured.
func (c Config) ObjectStore() (objectstore.Store, error) {
	if c.Mirror.Endpoint == "" || c.Mirror.Bucket == "" {
		return objectstore.NullStore{}, nil
	}
	return objectstore.NewMinIOStore(c.Mirror.Endpoint, c.Mirror.AccessKey, c.Mirror.SecretKey, c.Mirror.Bucket, c.Mirror.UseSSL)
}

// ReleaseSource returns the mirror when one is configured, else GitHub.
func (c Config) ReleaseSource() (release.Source, error) {
	if c.Mirror.Endpoint != "" && c.Mirror.Bucket != "" {
		store, err := c.ObjectStore()
		if err != nil {
			return nil, fmt.Errorf("mirror: %w", err)
		}
		return release.MirrorSource{Store: store, Prefix: c.Mirror.Prefix}, nil
	}
	return release.HTTPSource{BaseURL: c.ReleaseBaseURL, Token: c.GitHubToken, Client: c.HTTPClient()}, nil
}

// HTTPClient returns a client whose timeouts stop at the response headers,
// so a slow multi-hundred-MiB download is never cut off mid-body.
func (c Config) HTTPClient() *http.Client {
	timeout := time.Duration(c.HTTPTimeoutSec) * time.Second
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = timeout
	tr.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: tr}
}
