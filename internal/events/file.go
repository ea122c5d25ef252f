package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends events to a JSON list on disk.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink records events in the JSON file at path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Load returns every event recorded so far.
func (f *FileSink) Load() ([]Event, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []Event{}, nil
	}
	var items []Event
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Publish rewrites the file with ev appended.
func (f *FileSink) Publish(ctx context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	items, err := f.Load()
	if err != nil {
		return err
	}
	items = append(items, ev)
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o644)
}

func (f *FileSink) Close() error { return nil }
