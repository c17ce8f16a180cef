package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"skyfleet/simulator/internal/logging"
)

// StateSnapshotter keeps the last payload seen for each stateful message type
// and persists the set to disk, so the world layout and the latest fleet
// roster can be replayed to WebSocket clients joining after a restart.
type StateSnapshotter struct {
	path     string
	interval time.Duration
	log      *logging.Logger
	now      func() time.Time

	mu     sync.RWMutex
	latest map[string]json.RawMessage
	order  []string
	dirty  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// snapshotDocument is the on-disk layout. Entries keep first-seen order so a
// replay delivers the world layout before the roster that references it.
type snapshotDocument struct {
	SavedAt time.Time       `json:"saved_at"`
	Entries []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewStateSnapshotter loads any previous snapshot from path and starts the
// background flusher. An empty path or non-positive interval disables the
// feature and yields a nil snapshotter, which every method tolerates.
func NewStateSnapshotter(path string, interval time.Duration, logger *logging.Logger) (*StateSnapshotter, error) {
	if path == "" || interval <= 0 {
		return nil, nil
	}
	if logger == nil {
		logger = logging.L()
	}
	s := &StateSnapshotter{
		path:     path,
		interval: interval,
		log:      logger.With(logging.String("component", "snapshots")),
		now:      time.Now,
		latest:   make(map[string]json.RawMessage),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := s.restore(); err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", path, err)
	}
	go s.flushLoop()
	return s, nil
}

// restore reads the previous run's document; a missing file is a fresh start.
func (s *StateSnapshotter) restore() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range doc.Entries {
		if entry.Kind == "" || len(entry.Payload) == 0 {
			continue
		}
		s.latest[entry.Kind] = append(json.RawMessage(nil), entry.Payload...)
		if !slices.Contains(s.order, entry.Kind) {
			s.order = append(s.order, entry.Kind)
		}
	}
	return nil
}

func (s *StateSnapshotter) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-s.wake:
		case <-s.stop:
			s.flushLogged()
			return
		}
		s.flushLogged()
	}
}

// Record replaces the stored payload for the message kind and nudges the
// flusher. The payload is copied, so callers may reuse their buffer.
func (s *StateSnapshotter) Record(kind string, payload []byte) {
	if s == nil || kind == "" || len(payload) == 0 {
		return
	}
	s.mu.Lock()
	s.latest[kind] = append(json.RawMessage(nil), payload...)
	if !slices.Contains(s.order, kind) {
		s.order = append(s.order, kind)
	}
	s.dirty = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// StateMessages returns copies of the stored payloads in first-seen order,
// ready to hand to a freshly connected client.
func (s *StateSnapshotter) StateMessages() [][]byte {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var messages [][]byte
	for _, kind := range s.order {
		if payload := s.latest[kind]; len(payload) > 0 {
			messages = append(messages, append([]byte(nil), payload...))
		}
	}
	return messages
}

// Flush persists the current snapshot set if anything changed since the last
// write. The document is staged to a temp file and renamed, so a crash during
// the write never truncates the previous snapshot.
func (s *StateSnapshotter) Flush() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	doc := snapshotDocument{SavedAt: s.now().UTC()}
	for _, kind := range s.order {
		if payload := s.latest[kind]; len(payload) > 0 {
			doc.Entries = append(doc.Entries, snapshotEntry{Kind: kind, Payload: payload})
		}
	}
	//1.- Compact marshal keeps the raw payloads byte-identical for replay.
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	staging := s.path + ".tmp"
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(staging, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *StateSnapshotter) flushLogged() {
	if err := s.Flush(); err != nil {
		s.log.Error("snapshot flush failed", logging.Error(err))
	}
}

// Close stops the flusher after one final write.
func (s *StateSnapshotter) Close() error {
	if s == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	return nil
}
