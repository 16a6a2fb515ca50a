// Package state is the durable key/value store behind watermarks and the
// search budget. Every Set rewrites the whole file atomically.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"post-sentinel/internal/logger"
	"post-sentinel/internal/retry"

	"github.com/rs/zerolog"
)

type Store struct {
	path    string
	mu      sync.Mutex // guards data and version
	data    map[string]json.RawMessage
	version uint64

	writeMu sync.Mutex // serializes file writes; held across retry waits
	written uint64     // newest version on disk, guarded by writeMu

	log   zerolog.Logger
	write func(path string, data []byte) error
	retry retry.Policy
}

// Open loads path. A missing or corrupt file yields an empty store; Open never fails.
func Open(path string) *Store {
	s := &Store{
		path:  path,
		data:  map[string]json.RawMessage{},
		log:   logger.WithComponent("state"),
		write: DurableWrite,
		retry: retry.Persistence(),
	}
	s.load()
	return s
}

func (s *Store) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("state file unreadable, starting empty")
		}
		return
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(b, &data); err != nil || data == nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("state file corrupt, starting empty")
		return
	}
	s.data = data
}

// Get decodes the value stored under key into dst. It reports false when the key is absent.
func (s *Store) Get(key string, dst any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode state key %q: %w", key, err)
	}
	return true, nil
}

// GetString returns the string stored under key, or "" when absent or not a string.
func (s *Store) GetString(key string) string {
	var v string
	if ok, err := s.Get(key, &v); !ok || err != nil {
		return ""
	}
	return v
}

// Set stores value under key and writes the whole map through to disk before
// returning. On persistence failure the in-memory value is kept and the error
// is returned for logging only.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state key %q: %w", key, err)
	}

	s.mu.Lock()
	s.data[key] = raw
	s.version++
	version := s.version
	b, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return s.persist(version, b)
}

// Snapshot returns a copy of the raw stored values.
func (s *Store) Snapshot() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// persist writes the snapshot taken at version unless a newer one already
// reached the disk. Readers and other Set calls only wait on s.mu, never on a
// retrying write.
func (s *Store) persist(version uint64, b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if version <= s.written {
		return nil
	}

	p := s.retry
	p.OnRetry = func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("wait", wait).Msg("state write failed, retrying")
	}
	err := retry.Do(context.Background(), p, func(context.Context) error {
		return s.write(s.path, b)
	})
	if err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("state write gave up, keeping in-memory value")
		return err
	}
	s.written = version
	return nil
}
