package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var _ Storage = (*File)(nil)

// File persists all keys of one origin in a single JSON document.
// Writes go to a temp file which is renamed over the document, so a crash
// never leaves a half-written value behind.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file-backed storage for origin under dir.
func NewFile(dir, origin string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &File{path: filepath.Join(dir, originFileName(origin))}, nil
}

// Path returns the document location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(ctx context.Context, key string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	raw, ok := doc[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (f *File) Set(ctx context.Context, key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc[key] = raw
	return f.write(doc)
}

func (f *File) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return f.write(doc)
}

func (f *File) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	doc := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *File) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".localstore-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// originFileName turns "https://app.example.com:8443" into
// "https_app.example.com_8443.json".
func originFileName(origin string) string {
	name := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		name = u.Scheme + "_" + u.Host
	}
	name = strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(name)
	if name == "" {
		name = "default"
	}
	return name + ".json"
}
