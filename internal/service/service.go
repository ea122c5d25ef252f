package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/k8ika0s/xlsbundle/internal/artifact"
	"github.com/k8ika0s/xlsbundle/internal/bundle"
	"github.com/k8ika0s/xlsbundle/internal/driver"
	"github.com/k8ika0s/xlsbundle/internal/events"
	"github.com/k8ika0s/xlsbundle/internal/linkfs"
	"github.com/k8ika0s/xlsbundle/internal/logging"
	"github.com/k8ika0s/xlsbundle/internal/plan"
	"github.com/k8ika0s/xlsbundle/internal/platform"
	"github.com/k8ika0s/xlsbundle/internal/release"
	"github.com/k8ika0s/xlsbundle/internal/runner"
	"github.com/k8ika0s/xlsbundle/internal/toolset"
)

// Service resolves a plan, materializes it, and reports the outcome.
type Service struct {
	Config       Config
	Host         platform.Host
	Toolset      toolset.Toolset
	Resolver     plan.Resolver
	Downloader   *release.Downloader
	Materializer *bundle.Materializer
	Sink         events.Sink
	Logger       *slog.Logger
	Now          func() time.Time
}

// Build wires a Service for the running host from cfg.
func Build(cfg Config) (*Service, error) {
	host, err := platform.Current()
	if err != nil {
		return nil, err
	}
	ts, err := cfg.Toolset()
	if err != nil {
		return nil, err
	}
	src, err := cfg.ReleaseSource()
	if err != nil {
		return nil, err
	}
	sink, err := events.New(cfg.Events)
	if err != nil {
		return nil, err
	}
	run := runner.ExecRunner{Timeout: time.Duration(cfg.RunnerTimeoutSec) * time.Second}
	dl := &release.Downloader{Source: src, MaxAttempts: cfg.MaxAttempts, Logger: logging.New("release")}
	return &Service{
		Config:     cfg,
		Host:       host,
		Toolset:    ts,
		Resolver:   plan.Resolver{Root: cfg.EDAToolsRoot, Host: host, Exists: plan.PathExists},
		Downloader: dl,
		Materializer: &bundle.Materializer{
			Toolset:    ts,
			Host:       host,
			Runner:     run,
			Downloader: dl,
			Installer:  &driver.Installer{Runner: run, HostOS: host.OS, Logger: logging.New("driver")},
			Linker:     linkfs.Linker{},
			Logger:     logging.New("bundle"),
		},
		Sink:   sink,
		Logger: logging.New("service"),
	}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.New("service")
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Plan resolves the configured request without touching the repo root.
func (s *Service) Plan() (plan.Plan, error) {
	req, err := s.Config.Request()
	if err != nil {
		return nil, err
	}
	return s.Resolver.Resolve(req)
}

// Run materializes the configured bundle and publishes one outcome event.
func (s *Service) Run(ctx context.Context) (bundle.Metadata, error) {
	start := s.now()
	if s.Config.RepoRoot == "" {
		return bundle.Metadata{}, errors.New("repo root required")
	}
	p, err := s.Plan()
	var md bundle.Metadata
	if err == nil {
		s.logger().Info("plan resolved", "mode", p.PlanMode(), "repo_root", s.Config.RepoRoot)
		md, err = s.Materializer.Materialize(ctx, s.Config.RepoRoot, p)
	}
	s.publish(ctx, s.outcome(p, md, err, start))
	return md, err
}

// BundleKey derives the identity of the bundle p describes.
func (s *Service) BundleKey(p plan.Plan) artifact.BundleKey {
	key := artifact.BundleKey{HostOS: string(s.Host.OS), Binaries: s.Toolset.Binaries()}
	switch p := p.(type) {
	case plan.Located:
		key.Mode = string(p.Mode)
		key.ToolsRoot, key.StdlibRoot, key.Driver, key.Libxls = p.ToolsRoot, p.StdlibRoot, p.Driver, p.Libxls
		if p.Mode == plan.ModeEDATools {
			key.XLSVersion, key.DriverVersion = s.Config.XLSVersion, s.Config.DriverVersion
		}
	case plan.Deferred:
		key.Mode = string(p.Mode)
		key.XLSVersion, key.DriverVersion = p.XLSVersion, p.DriverVersion
	default:
		key.Mode = s.Config.ArtifactSource
		key.XLSVersion, key.DriverVersion = s.Config.XLSVersion, s.Config.DriverVersion
	}
	return key
}

func (s *Service) outcome(p plan.Plan, md bundle.Metadata, err error, start time.Time) events.Event {
	key := s.BundleKey(p)
	ev := events.Event{
		Kind:           events.KindMaterialized,
		BundleID:       key.Digest(),
		RepoRoot:       s.Config.RepoRoot,
		Mode:           key.Mode,
		XLSVersion:     key.XLSVersion,
		DriverVersion:  key.DriverVersion,
		LibxlsName:     md.LibxlsName,
		DriverSupports: md.DriverSupports,
		DurationMS:     s.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		ev.Kind = events.KindFailed
		ev.Error = err.Error()
	}
	return ev.Stamp(s.now())
}

// publish never fails the run.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.Sink == nil {
		return
	}
	if err := s.Sink.Publish(ctx, ev); err != nil {
		s.logger().Warn("publish event failed", "kind", ev.Kind, "error", err)
	}
}

// Close releases the event sink.
func (s *Service) Close() error {
	if s.Sink == nil {
		return nil
	}
	return s.Sink.Close()
}
