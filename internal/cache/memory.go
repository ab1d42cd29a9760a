package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	strings map[string]memoryValue
	hashes  map[string]memoryHash
	lists   map[string]memoryList
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

type memoryHash struct {
	fields    map[string]string
	expiresAt time.Time
}

type memoryList struct {
	items     []string
	expiresAt time.Time
}

// NewMemory builds an in-process Store. State is lost on restart and never
// shared between instances, so Shared reports false.
func NewMemory() Store {
	return &memoryStore{
		strings: make(map[string]memoryValue),
		hashes:  make(map[string]memoryHash),
		lists:   make(map[string]memoryList),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.strings[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.strings, key)
		return nil, false, nil
	}
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache: memory set requires a positive ttl")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]byte, len(value))
	copy(data, value)
	s.strings[key] = memoryValue{data: data, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *memoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(hash.expiresAt) {
		delete(s.hashes, key)
		return "", false, nil
	}
	value, ok := hash.fields[field]
	return value, ok, nil
}

func (s *memoryStore) HSetWithExpire(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache: memory hset requires a positive ttl")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok || time.Now().After(hash.expiresAt) {
		hash = memoryHash{fields: make(map[string]string, len(fields))}
	}
	for k, v := range fields {
		hash.fields[k] = v
	}
	hash.expiresAt = time.Now().Add(ttl)
	s.hashes[key] = hash
	return nil
}

func (s *memoryStore) ListPushTrimExpire(_ context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache: memory list push requires a positive ttl")
	}
	if maxLen <= 0 {
		return errors.New("cache: memory list push requires a positive max length")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[key]
	if !ok || time.Now().After(list.expiresAt) {
		list = memoryList{}
	}
	list.items = append([]string{value}, list.items...)
	if int64(len(list.items)) > maxLen {
		list.items = list.items[:maxLen]
	}
	list.expiresAt = time.Now().Add(ttl)
	s.lists[key] = list
	return nil
}

func (s *memoryStore) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(list.expiresAt) {
		delete(s.lists, key)
		return nil, nil
	}
	length := int64(len(list.items))
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || length == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list.items[start:stop+1])
	return out, nil
}

func (s *memoryStore) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.strings {
		if strings.HasPrefix(key, prefix) {
			delete(s.strings, key)
		}
	}
	for key := range s.hashes {
		if strings.HasPrefix(key, prefix) {
			delete(s.hashes, key)
		}
	}
	for key := range s.lists {
		if strings.HasPrefix(key, prefix) {
			delete(s.lists, key)
		}
	}
	return nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Shared() bool { return false }

func (s *memoryStore) Close(context.Context) error { return nil }
