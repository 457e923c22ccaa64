// Package localstore is the development sink for diagnostic events: a JSON
// lines file holding the most recent events, pruned to a fixed limit.
package localstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tinytelemetry/diagd/internal/model"
	"github.com/tinytelemetry/diagd/internal/ring"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

type entry struct {
	Key   string                `json:"key"`
	Event model.DiagnosticEvent `json:"event"`
}

// Store keeps up to limit events on disk, oldest pruned first.
type Store struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	entries *ring.Buffer[[]byte]
	rename  func(oldpath, newpath string) error
}

// Open creates or opens the store at path. Existing entries beyond limit are
// pruned and a partially written trailing line is dropped.
func Open(path string, limit int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("localstore: path is empty")
	}
	if limit <= 0 {
		limit = model.DefaultLocalStoreLimit
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("localstore: mkdir: %w", err)
	}

	s := &Store{path: path, entries: ring.New[[]byte](limit), rename: os.Rename}
	if err := s.load(); err != nil {
		return nil, err
	}
	if err := s.rewrite(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("localstore: open for load: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		line, rerr := reader.ReadBytes('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return fmt.Errorf("localstore: load read: %w", rerr)
		}
		if len(line) == 0 || !strings.HasSuffix(string(line), "\n") {
			return nil
		}
		var e entry
		if json.Unmarshal(line, &e) != nil {
			return nil
		}
		s.entries.Push(line)
		if errors.Is(rerr, io.EOF) {
			return nil
		}
	}
}

// Record appends ev under its id. Once the limit is reached the file is
// rewritten without the oldest entry.
func (s *Store) Record(ev model.DiagnosticEvent) error {
	line, err := json.Marshal(entry{Key: "diagnostic_" + ev.ID, Event: ev})
	if err != nil {
		return fmt.Errorf("localstore: marshal entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("localstore: closed")
	}

	if evicted := s.entries.Push(line); evicted {
		return s.rewriteLocked()
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("localstore: write entry: %w", err)
	}
	return nil
}

// Events returns the stored events, oldest first.
func (s *Store) Events() []model.DiagnosticEvent {
	s.mu.Lock()
	lines := s.entries.Items()
	s.mu.Unlock()

	out := make([]model.DiagnosticEvent, 0, len(lines))
	for _, line := range lines {
		var e entry
		if json.Unmarshal(line, &e) == nil {
			out = append(out, e.Event)
		}
	}
	return out
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Store) rewrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewriteLocked()
}

// rewriteLocked replaces the file with the retained entries and reopens it
// for appending.
func (s *Store) rewriteLocked() error {
	tmpPath := s.path + ".compact"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultFileMode)
	if err != nil {
		return fmt.Errorf("localstore: open compact tmp: %w", err)
	}

	var werr error
	s.entries.Each(func(line []byte) bool {
		_, werr = dst.Write(line)
		return werr == nil
	})
	if werr != nil {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("localstore: compact write: %w", werr)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("localstore: compact close: %w", err)
	}

	// On rename failure the previous file stays open so later records still
	// land; the next eviction retries the compaction.
	if err := s.rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("localstore: compact rename: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("localstore: open: %w", err)
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = f
	return nil
}
