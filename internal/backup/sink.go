package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Sink stores and retrieves encoded backup documents by name.
type Sink interface {
	Write(ctx context.Context, name string, doc Document) (location string, err error)
	Read(ctx context.Context, name string) (Document, error)
	List(ctx context.Context) ([]string, error)
}

// Latest returns the most recent backup name in sink, relying on FileName's sortable timestamps.
func Latest(ctx context.Context, sink Sink) (string, error) {
	names, err := sink.List(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", errors.New("no backups found")
	}
	return names[len(names)-1], nil
}

// FileSink keeps backups as files in one directory.
type FileSink struct {
	dir string
	loc *time.Location
}

// NewFileSink creates the directory if needed. loc is used when decoding legacy documents.
func NewFileSink(dir string, loc *time.Location) (*FileSink, error) {
	if dir == "" {
		return nil, errors.New("backup directory required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileSink{dir: dir, loc: loc}, nil
}

func (s *FileSink) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Write stores doc under name via a temp file and rename.
func (s *FileSink) Write(_ context.Context, name string, doc Document) (string, error) {
	path, err := s.path(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, ".backup-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish backup: %w", err)
	}
	return path, nil
}

// Read decodes the backup stored under name.
func (s *FileSink) Read(_ context.Context, name string) (Document, error) {
	path, err := s.path(name)
	if err != nil {
		return Document{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open backup: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f, s.loc)
}

// List returns the JSON backups in the directory sorted by name.
func (s *FileSink) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
