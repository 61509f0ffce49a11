package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

type fileStore struct {
	path   string
	values map[string]string
	lock   sync.Mutex
}

// OpenFileStore returns a Store backed by a CBOR snapshot at path. The
// snapshot is rewritten on every mutation; reads are served from memory.
func OpenFileStore(path string) (Store, error) {
	s := &fileStore{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store file %s: %w", path, err)
	}

	if err := cbor.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("decoding store file %s: %w", path, err)
	}

	return s, nil
}

func (s *fileStore) Get(key string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *fileStore) Set(key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.values[key] = value
	return s.persist()
}

func (s *fileStore) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.values, key)
	return s.persist()
}

func (s *fileStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.values = make(map[string]string)
	return s.persist()
}

// persist writes the snapshot via a temp file and rename so a crash
// mid-write cannot truncate the previous snapshot. Caller holds the lock.
func (s *fileStore) persist() error {
	data, err := cbor.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encoding store snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing store snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing store snapshot: %w", err)
	}
	return nil
}
