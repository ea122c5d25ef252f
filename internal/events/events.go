// Package events publishes one record per materialization attempt.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/k8ika0s/xlsbundle/internal/reporter"
)

// Kind distinguishes successful from failed materializations.
type Kind string

const (
	KindMaterialized Kind = "bundle_materialized"
	KindFailed       Kind = "bundle_failed"
)

// Event is the outcome of one materialization attempt.
type Event struct {
	Kind           Kind   `json:"kind"`
	BundleID       string `json:"bundle_id"`
	RepoRoot       string `json:"repo_root"`
	Mode           string `json:"mode,omitempty"`
	XLSVersion     string `json:"xls_version,omitempty"`
	DriverVersion  string `json:"driver_version,omitempty"`
	LibxlsName     string `json:"libxls_name,omitempty"`
	DriverSupports bool   `json:"driver_supports_sv_enum_case_naming_policy"`
	Error          string `json:"error,omitempty"`
	DurationMS     int64  `json:"duration_ms"`
	Timestamp      int64  `json:"timestamp"`
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NullSink drops every event.
type NullSink struct{}

func (NullSink) Publish(context.Context, Event) error { return nil }

func (NullSink) Close() error { return nil }

// Config selects and configures a sink.
type Config struct {
	Backend       string `yaml:"backend"`
	FilePath      string `yaml:"file_path"`
	RedisURL      string `yaml:"redis_url"`
	RedisKey      string `yaml:"redis_key"`
	KafkaBrokers  string `yaml:"kafka_brokers"`
	KafkaTopic    string `yaml:"kafka_topic"`
	ReporterURL   string `yaml:"reporter_url"`
	ReporterToken string `yaml:"reporter_token"`
}

// New builds the sink named by cfg.Backend.
func New(cfg Config) (Sink, error) {
	switch cfg.Backend {
	case "", "none":
		return NullSink{}, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file event sink requires a path")
		}
		return NewFileSink(cfg.FilePath), nil
	case "redis":
		s, err := NewRedisSink(cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "kafka":
		s, err := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "http":
		if cfg.ReporterURL == "" {
			return nil, fmt.Errorf("http event sink requires a reporter url")
		}
		return ReporterSink{Client: &reporter.Client{BaseURL: cfg.ReporterURL, Token: cfg.ReporterToken}}, nil
	}
	return nil, fmt.Errorf("unknown event backend %q", cfg.Backend)
}

// Stamp fills Timestamp when unset.
func (ev Event) Stamp(now time.Time) Event {
	if ev.Timestamp == 0 {
		ev.Timestamp = now.Unix()
	}
	return ev
}

// ReporterSink posts events over HTTP.
type ReporterSink struct {
	Client *reporter.Client
}

func (s ReporterSink) Publish(ctx context.Context, ev Event) error {
	return s.Client.PostEvent(ctx, ev)
}

func (ReporterSink) Close() error { return nil }
