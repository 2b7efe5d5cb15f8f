// Package evidence stores raw proctoring evidence (frames, screenshots) and hands back opaque references.
// Ledger entries carry only the reference, never the payload.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

// ErrEmpty is returned when asked to store an empty payload.
var ErrEmpty = errors.New("evidence: empty payload")

// Store persists evidence payloads.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (ref string, err error)
}

// Ref returns the content-addressed reference for data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

type blob struct {
	data        []byte
	contentType string
}

// MemoryStore is a content-addressed in-memory Store. Storing the same bytes twice yields the same ref.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]blob)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := Ref(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		s.blobs[ref] = blob{data: append([]byte(nil), data...), contentType: contentType}
	}
	return ref, nil
}

// Get returns a stored payload and its content type.
func (s *MemoryStore) Get(ref string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[ref]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), b.data...), b.contentType, true
}

// Len returns the number of distinct payloads stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
