package release

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/k8ika0s/xlsbundle/internal/objectstore"
)

func sum(data []byte) string {
	s := sha256.Sum256(data)
	return hex.EncodeToString(s[:])
}

// assetServer serves /<tag>/<name> and /<tag>/<name>.sha256 from memory.
// failFirst names assets whose first response is cut off mid-stream.
type assetServer struct {
	mu        sync.Mutex
	assets    map[string][]byte
	failFirst map[string]int
	hits      map[string]int
}

func newAssetServer() *assetServer {
	return &assetServer{assets: map[string][]byte{}, failFirst: map[string]int{}, hits: map[string]int{}}
}

func (s *assetServer) add(tag, name string, data []byte) {
	s.assets["/"+tag+"/"+name] = data
	s.assets["/"+tag+"/"+name+".sha256"] = []byte(sum(data) + "  " + name + "\n")
}

func (s *assetServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	hit := s.hits[r.URL.Path]
	data, ok := s.assets[r.URL.Path]
	cut := hit <= s.failFirst[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if cut {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data[:len(data)/2])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	_, _ = w.Write(data)
}

func (s *assetServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newDownloader(t *testing.T, srv *httptest.Server, sleeps *[]time.Duration) *Downloader {
	t.Helper()
	return &Downloader{
		Source:      HTTPSource{BaseURL: srv.URL, Client: srv.Client()},
		MaxAttempts: 4,
		Sleep:       func(d time.Duration) { *sleeps = append(*sleeps, d) },
	}
}

func TestFetchInstallsBinaryWithoutPlatformSuffix(t *testing.T) {
	assets := newAssetServer()
	assets.add("v0.38.0", "opt_main-x64", []byte("#!/bin/sh\necho opt\n"))
	srv := httptest.NewServer(assets)
	defer srv.Close()

	var sleeps []time.Duration
	dir := t.TempDir()
	got, err := newDownloader(t, srv, &sleeps).Fetch(context.Background(),
		Task{Tag: "v0.38.0", Filename: "opt_main-x64", IsBinary: true, Platform: "x64"}, dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != filepath.Join(dir, "opt_main") {
		t.Fatalf("unexpected installed path: %s", got)
	}
	info, err := os.Stat(got)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("expected 0755, got %v", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("scratch left behind: %v", entries)
	}
}

func TestFetchRetriesInterruptedStream(t *testing.T) {
	payload := bytes.Repeat([]byte("xls"), 64<<10)
	assets := newAssetServer()
	assets.add("v0.38.0", "codegen_main-x64", payload)
	assets.failFirst["/v0.38.0/codegen_main-x64"] = 2
	srv := httptest.NewServer(assets)
	defer srv.Close()

	var sleeps []time.Duration
	dir := t.TempDir()
	got, err := newDownloader(t, srv, &sleeps).Fetch(context.Background(),
		Task{Tag: "v0.38.0", Filename: "codegen_main-x64", IsBinary: true, Platform: "x64"}, dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("content differs after retry: %d bytes vs %d", len(data), len(payload))
	}
	if n := assets.count("/v0.38.0/codegen_main-x64"); n != 3 {
		t.Fatalf("expected 3 requests, got %d", n)
	}
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Fatalf("unexpected backoff: %v", sleeps)
	}
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	assets := newAssetServer()
	srv := httptest.NewServer(assets)
	defer srv.Close()

	var sleeps []time.Duration
	_, err := newDownloader(t, srv, &sleeps).Fetch(context.Background(),
		Task{Tag: "v0.38.0", Filename: "missing-x64", IsBinary: true, Platform: "x64"}, t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := assets.count("/v0.38.0/missing-x64.sha256"); n != 1 {
		t.Fatalf("expected exactly one attempt, got %d", n)
	}
	if len(sleeps) != 0 {
		t.Fatalf("unexpected sleeps: %v", sleeps)
	}
}

func TestFetchServerErrorsExhaustAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	_, err := newDownloader(t, srv, &sleeps).Fetch(context.Background(), Task{Tag: "v0.38.0", Filename: "a"}, t.TempDir())
	var status *StatusError
	if !errors.As(err, &status) || status.Code != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestFetchChecksumMismatch(t *testing.T) {
	assets := newAssetServer()
	assets.add("v0.38.0", "opt_main-x64", []byte("good"))
	assets.assets["/v0.38.0/opt_main-x64"] = []byte("tampered")
	srv := httptest.NewServer(assets)
	defer srv.Close()

	var sleeps []time.Duration
	dir := t.TempDir()
	_, err := newDownloader(t, srv, &sleeps).Fetch(context.Background(),
		Task{Tag: "v0.38.0", Filename: "opt_main-x64", IsBinary: true, Platform: "x64"}, dir)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if n := assets.count("/v0.38.0/opt_main-x64"); n != 1 {
		t.Fatalf("mismatch must not be retried, got %d requests", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "opt_main")); !os.IsNotExist(err) {
		t.Fatalf("destination written despite mismatch: %v", err)
	}
}

func TestFetchChecksumPrecedesArtifact(t *testing.T) {
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, filepath.Base(r.URL.Path))
		if strings.HasSuffix(r.URL.Path, ".sha256") {
			_, _ = io.WriteString(w, sum([]byte("payload")))
			return
		}
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()
	var sleeps []time.Duration
	if _, err := newDownloader(t, srv, &sleeps).Fetch(context.Background(), Task{Tag: "v1.0.0", Filename: "notes.txt"}, t.TempDir()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if strings.Join(order, ",") != "notes.txt.sha256,notes.txt" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestFetchDecompressesGzipLibrary(t *testing.T) {
	lib := []byte("\x7fELF shared object")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(lib)
	_ = zw.Close()

	assets := newAssetServer()
	assets.add("v0.38.0", "libxls-x64.so.gz", buf.Bytes())
	srv := httptest.NewServer(assets)
	defer srv.Close()

	var sleeps []time.Duration
	dir := t.TempDir()
	got, err := newDownloader(t, srv, &sleeps).Fetch(context.Background(), Task{Tag: "v0.38.0", Filename: "libxls-x64.so.gz"}, dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != filepath.Join(dir, "libxls-x64.so") {
		t.Fatalf("unexpected path: %s", got)
	}
	data, _ := os.ReadFile(got)
	if !bytes.Equal(data, lib) {
		t.Fatalf("unexpected library content: %q", data)
	}
	info, _ := os.Stat(got)
	if info.Mode().Perm()&0o111 != 0 {
		t.Fatalf("library must not be executable: %v", info.Mode())
	}
}

func TestInstalledName(t *testing.T) {
	tests := []struct {
		task Task
		name string
		gz   bool
	}{
		{Task{Filename: "opt_main-rocky8", IsBinary: true, Platform: "rocky8"}, "opt_main", false},
		{Task{Filename: "opt_main-rocky8", Platform: "rocky8"}, "opt_main-rocky8", false},
		{Task{Filename: "libxls-arm64.dylib.gz"}, "libxls-arm64.dylib", true},
		{Task{Filename: "libxls-x64.so"}, "libxls-x64.so", false},
		{Task{Filename: StdlibArchive}, StdlibArchive, false},
	}
	for _, tt := range tests {
		name, gz := InstalledName(tt.task)
		if name != tt.name || gz != tt.gz {
			t.Fatalf("%s: got (%s, %v), expected (%s, %v)", tt.task.Filename, name, gz, tt.name, tt.gz)
		}
	}
}

func TestParseChecksum(t *testing.T) {
	digest := sum([]byte("x"))
	got, err := ParseChecksum(strings.ToUpper(digest) + "  file\nextra")
	if err != nil || got != digest {
		t.Fatalf("got %q, %v", got, err)
	}
	for _, bad := range []string{"", "   ", "abc file", strings.Repeat("z", 64)} {
		if _, err := ParseChecksum(bad); !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("ParseChecksum(%q): expected ErrChecksumMismatch, got %v", bad, err)
		}
	}
}

func stdlibTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownloadRelease(t *testing.T) {
	assets := newAssetServer()
	tools := []string{"opt_main", "codegen_main"}
	for _, name := range tools {
		assets.add("v0.0.218", name+"-ubuntu2004", []byte(name))
	}
	assets.add("v0.0.218", "libxls-ubuntu2004.so", []byte("lib"))
	assets.add("v0.0.218", StdlibArchive, stdlibTarball(t, map[string]string{
		"xls/dslx/stdlib/std.x":     "// std",
		"xls/dslx/stdlib/apfloat.x": "// apfloat",
	}))
	srv := httptest.NewServer(assets)
	defer srv.Close()

	var sleeps []time.Duration
	out := filepath.Join(t.TempDir(), "_downloaded_xls")
	err := newDownloader(t, srv, &sleeps).DownloadRelease(context.Background(), Request{
		Tag: "v0.0.218", Platform: "ubuntu2004", OutputDir: out, IncludeLibrary: true, Tools: tools,
	})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	for _, name := range []string{"opt_main", "codegen_main", "libxls-ubuntu2004.so"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(StdlibDir(out), "std.x")); err != nil {
		t.Fatalf("stdlib not extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, StdlibArchive)); !os.IsNotExist(err) {
		t.Fatalf("archive should be removed after extraction: %v", err)
	}
}

func TestExtractTarGzRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	if err := os.WriteFile(archive, stdlibTarball(t, map[string]string{"../escape.x": "x"}), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "out")
	if err := ExtractTarGz(archive, dest); err == nil || !strings.Contains(err.Error(), "escapes destination") {
		t.Fatalf("expected traversal error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.x")); !os.IsNotExist(err) {
		t.Fatalf("file escaped destination")
	}
}

type tarEntry struct {
	name, link, body string
}

func writeTarGz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.link != "" {
			hdr = &tar.Header{Name: e.name, Linkname: e.link, Mode: 0o777, Typeflag: tar.TypeSymlink}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if e.link == "" {
			if _, err := io.WriteString(tw, e.body); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractTarGzRejectsChainedSymlinks(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out")
	archive := filepath.Join(dir, "chain.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "a", link: "."},
		{name: "a/b", link: ".."},
		{name: "b/evil.txt", body: "x"},
	})
	if err := ExtractTarGz(archive, dest); err == nil {
		t.Fatal("expected symlink entries to be rejected")
	}
	if _, err := os.Stat(filepath.Join(dir, "evil.txt")); !os.IsNotExist(err) {
		t.Fatalf("file escaped destination")
	}
}

func TestExtractTarGzRefusesExistingSymlinkedDir(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out")
	outside := filepath.Join(dir, "outside")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(dest, "xls")); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(dir, "std.tar.gz")
	writeTarGz(t, archive, []tarEntry{{name: "xls/std.x", body: "x"}})
	if err := ExtractTarGz(archive, dest); err == nil || !strings.Contains(err.Error(), "passes through symlink") {
		t.Fatalf("expected symlink parent error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "std.x")); !os.IsNotExist(err) {
		t.Fatalf("file written through symlinked directory")
	}
}

func TestLatest(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.URL.Path != "/repos/xlsynth/xlsynth/releases/latest" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "token pat" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"tag_name": "v0.38.0", "name": "v0.38.0"}`)
	}))
	defer srv.Close()

	var sleeps []time.Duration
	d := newDownloader(t, srv, &sleeps)
	tag, err := d.Latest(context.Background(), API{URL: srv.URL, Token: "pat", Client: srv.Client()})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if tag != "v0.38.0" || attempts != 2 {
		t.Fatalf("got %s after %d attempts", tag, attempts)
	}
}

type mapStore map[string][]byte

func (m mapStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestMirrorSource(t *testing.T) {
	payload := []byte("mirror bytes")
	store := mapStore{
		"xlsynth/v0.38.0/opt_main-x64":        payload,
		"xlsynth/v0.38.0/opt_main-x64.sha256": []byte(sum(payload)),
	}
	var sleeps []time.Duration
	d := &Downloader{Source: MirrorSource{Store: store, Prefix: "/xlsynth/"}, Sleep: func(d time.Duration) { sleeps = append(sleeps, d) }}
	dir := t.TempDir()
	got, err := d.Fetch(context.Background(), Task{Tag: "v0.38.0", Filename: "opt_main-x64", IsBinary: true, Platform: "x64"}, dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if data, _ := os.ReadFile(got); !bytes.Equal(data, payload) {
		t.Fatalf("unexpected content %q", data)
	}
	_, err = d.Fetch(context.Background(), Task{Tag: "v0.38.0", Filename: "absent"}, dir)
	if !errors.Is(err, ErrNotFound) || len(sleeps) != 0 {
		t.Fatalf("expected immediate ErrNotFound, got %v after %d sleeps", err, len(sleeps))
	}
}
