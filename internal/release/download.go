// Package release fetches and installs XLS release assets.
package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/k8ika0s/xlsbundle/internal/logging"
	"github.com/k8ika0s/xlsbundle/internal/retry"
)

// DefaultMaxAttempts bounds every request when Downloader.MaxAttempts is unset.
const DefaultMaxAttempts = 10

// Task names one asset to install into a target directory.
type Task struct {
	Tag      string
	Filename string
	IsBinary bool
	// Platform is stripped from binary filenames ("opt_main-x64" -> "opt_main").
	Platform string
}

// Downloader fetches release assets with retry and sha256 verification.
type Downloader struct {
	Source      Source
	MaxAttempts int
	// Sleep replaces time.Sleep between attempts.
	Sleep  func(time.Duration)
	Logger *slog.Logger
}

func (d *Downloader) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.New("release")
}

func (d *Downloader) policy(name string) retry.Policy {
	attempts := d.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	log := d.logger()
	return retry.Policy{
		MaxAttempts: attempts,
		Retryable:   Retryable,
		Sleep:       d.Sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn("download attempt failed", "file", name, "attempt", attempt, "retry_in", delay, "error", err)
		},
	}
}

// Retryable reports whether a transport error is worth another attempt.
// Missing assets and checksum mismatches are final.
func Retryable(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrChecksumMismatch) &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// copyToPath writes one asset to dest. A failure while streaming restarts
// the whole request and truncates dest.
func (d *Downloader) copyToPath(ctx context.Context, tag, name, dest string) error {
	_, err := retry.Do(ctx, d.policy(name), func(ctx context.Context, _ int) (int64, error) {
		rc, err := d.Source.Open(ctx, tag, name)
		if err != nil {
			return 0, err
		}
		defer rc.Close()
		out, err := os.Create(dest)
		if err != nil {
			return 0, err
		}
		n, err := io.Copy(out, rc)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return n, fmt.Errorf("read %s: %w", name, err)
		}
		return n, nil
	})
	if err != nil {
		d.logger().Error("download failed", "file", name, "error", err)
	}
	return err
}

// Fetch downloads t.Filename and its .sha256 sidecar into a scratch
// directory, verifies the digest, then installs the asset into targetDir.
// It returns the installed path.
func (d *Downloader) Fetch(ctx context.Context, t Task, targetDir string) (string, error) {
	if d.Source == nil {
		return "", fmt.Errorf("release source not configured")
	}
	start := time.Now()
	d.logger().Info("starting download", "file", t.Filename, "tag", t.Tag)

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", err
	}
	// Scratch lives inside targetDir so the final rename stays on one filesystem.
	scratch, err := os.MkdirTemp(targetDir, ".download-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(scratch)

	sumPath := filepath.Join(scratch, t.Filename+".sha256")
	artifactPath := filepath.Join(scratch, t.Filename)
	if err := d.copyToPath(ctx, t.Tag, t.Filename+".sha256", sumPath); err != nil {
		return "", err
	}
	if err := d.copyToPath(ctx, t.Tag, t.Filename, artifactPath); err != nil {
		return "", err
	}
	if err := verifyChecksum(t.Filename, artifactPath, sumPath); err != nil {
		return "", err
	}

	name, gz := InstalledName(t)
	target := filepath.Join(targetDir, name)
	if gz {
		if err := gunzipFile(artifactPath, target); err != nil {
			return "", fmt.Errorf("decompress %s: %w", t.Filename, err)
		}
	} else if err := os.Rename(artifactPath, target); err != nil {
		return "", err
	}
	mode := os.FileMode(0o644)
	if t.IsBinary {
		mode = 0o755
	}
	if err := os.Chmod(target, mode); err != nil {
		return "", err
	}

	if info, err := os.Stat(target); err == nil {
		d.logger().Info("downloaded",
			"file", name,
			"mib", fmt.Sprintf("%.2f", float64(info.Size())/(1024*1024)),
			"seconds", fmt.Sprintf("%.2f", time.Since(start).Seconds()))
	}
	return target, nil
}

// InstalledName maps an asset filename to its installed name and reports
// whether the asset is a gzip-compressed shared library.
func InstalledName(t Task) (string, bool) {
	name := t.Filename
	if t.IsBinary && t.Platform != "" {
		name = strings.TrimSuffix(name, "-"+t.Platform)
	}
	if strings.HasSuffix(name, ".so.gz") || strings.HasSuffix(name, ".dylib.gz") {
		return strings.TrimSuffix(name, ".gz"), true
	}
	return name, false
}

// ParseChecksum returns the first whitespace-delimited token of a sidecar.
func ParseChecksum(content string) (string, error) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty checksum file", ErrChecksumMismatch)
	}
	sum := strings.ToLower(fields[0])
	if len(sum) != sha256.Size*2 || !isHex(sum) {
		return "", fmt.Errorf("%w: malformed digest %q", ErrChecksumMismatch, fields[0])
	}
	return sum, nil
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func verifyChecksum(name, artifactPath, sumPath string) error {
	raw, err := os.ReadFile(sumPath)
	if err != nil {
		return err
	}
	expected, err := ParseChecksum(string(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	actual, err := fileSHA256(artifactPath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w for %s: expected %s, got %s", ErrChecksumMismatch, name, expected, actual)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func gunzipFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	zr, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer zr.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
