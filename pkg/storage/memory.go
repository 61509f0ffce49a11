package storage

import "sync"

type memoryStore struct {
	values map[string]string
	lock   sync.RWMutex
}

// NewMemoryStore returns an in-process Store. Suitable for one UI
// session; contents are lost when the process exits.
func NewMemoryStore() Store {
	return &memoryStore{
		values: make(map[string]string),
	}
}

func (s *memoryStore) Get(key string) (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *memoryStore) Set(key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryStore) Delete(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.values, key)
	return nil
}

func (s *memoryStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.values = make(map[string]string)
	return nil
}
