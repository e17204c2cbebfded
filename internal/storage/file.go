package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// FileStore writes the snapshot as indented JSON. Each write goes to a temp
// file that is renamed over path, so readers see either the old or the new
// document.
type FileStore struct {
	path string
	log  *logrus.Logger
}

func NewFileStore(path string, log *logrus.Logger) *FileStore {
	return &FileStore{path: path, log: log}
}

func (f *FileStore) Name() string {
	return "file"
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Publish(_ context.Context, snap *protocol.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".sds200-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}

	f.log.Debugf("snapshot saved to %s", f.path)
	return nil
}

func (f *FileStore) Latest(_ context.Context) (*protocol.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return decode(data)
}

func (f *FileStore) Close() error {
	return nil
}
