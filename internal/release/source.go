package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/k8ika0s/xlsbundle/internal/objectstore"
)

// DefaultBaseURL is the GitHub release download root.
const DefaultBaseURL = "https://github.com/xlsynth/xlsynth/releases/download"

var (
	// ErrNotFound is returned when a release asset does not exist. It is
	// never retried.
	ErrNotFound = errors.New("release asset not found")
	// ErrChecksumMismatch is returned when a downloaded asset does not
	// match its sha256 sidecar.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Source opens release assets by tag and filename.
type Source interface {
	Open(ctx context.Context, tag, name string) (io.ReadCloser, error)
}

// StatusError reports a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Is matches ErrNotFound for 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// HTTPSource reads assets from <BaseURL>/<tag>/<name>.
type HTTPSource struct {
	BaseURL string
	// Token is sent as "Authorization: token <Token>" when set.
	Token  string
	Client *http.Client
}

func (s HTTPSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Minute}
}

// URL returns the address of one asset.
func (s HTTPSource) URL(tag, name string) string {
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), tag, name)
}

func (s HTTPSource) Open(ctx context.Context, tag, name string) (io.ReadCloser, error) {
	return s.get(ctx, s.URL(tag, name))
}

func (s HTTPSource) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "token "+s.Token)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// MirrorSource reads assets from <Prefix>/<tag>/<name> in an object store.
type MirrorSource struct {
	Store  objectstore.Store
	Prefix string
}

// Key is the object key for an asset: <prefix>/<tag>/<name>.
func (m MirrorSource) Key(tag, name string) string {
	prefix := strings.Trim(m.Prefix, "/")
	if prefix == "" {
		return tag + "/" + name
	}
	return prefix + "/" + tag + "/" + name
}

func (m MirrorSource) Open(ctx context.Context, tag, name string) (io.ReadCloser, error) {
	rc, err := m.Store.Get(ctx, m.Key(tag, name))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return rc, err
}
