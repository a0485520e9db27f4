// File: internal/store/file.go
package store

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/decentraleyes/loadwatcher/internal/taint"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// File persists the tainted domain set as a single JSON record:
//
//	{"taintedDomains": {"ya.ru": true, ...}}
//
// Writes go to a temporary file that is renamed over the record.
type File struct {
	path string
	log  *zap.Logger
	mu   sync.Mutex
}

// NewFile returns a file backend rooted at path. The directory is created on
// first write.
func NewFile(path string, logger *zap.Logger) *File {
	return &File{
		path: path,
		log:  logger.Named("store.file"),
	}
}

func (f *File) Load(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.read()
	if err != nil {
		return nil, err
	}
	return sortedKeys(record), nil
}

// Add merges domains into the record. An unreadable record is moved aside to
// <path>.corrupt and replaced.
func (f *File) Add(ctx context.Context, domains []string) error {
	if len(domains) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.read()
	if err != nil {
		aside := f.path + ".corrupt"
		f.log.Warn("Persisted record is unreadable; moving it aside.", zap.String("path", f.path), zap.String("moved_to", aside), zap.Error(err))
		if renameErr := os.Rename(f.path, aside); renameErr != nil {
			return fmt.Errorf("failed to move unreadable record aside: %w", renameErr)
		}
		record = make(map[string]bool)
	}

	for _, d := range domains {
		record[d] = true
	}
	return f.write(record)
}

func (f *File) Close() error { return nil }

func (f *File) read() (map[string]bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]bool), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	var doc map[string]map[string]bool
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	record := doc[taint.RecordName]
	if record == nil {
		record = make(map[string]bool)
	}
	return record, nil
}

func (f *File) write(record map[string]bool) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	compact, err := json.Marshal(map[string]map[string]bool{taint.RecordName: record})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	var buf bytes.Buffer
	if err := stdjson.Indent(&buf, compact, "", "  "); err != nil {
		return fmt.Errorf("failed to indent record: %w", err)
	}
	data := buf.Bytes()

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
