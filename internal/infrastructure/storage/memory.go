package storage

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	ledgerapp "github.com/erp/ledger/internal/application/ledger"
)

var errKeyRequired = errors.New("storage key is required")

var _ ledgerapp.ObjectStorage = (*MemoryObjectStorage)(nil)

// MemoryObjectStorage keeps attachments in process memory. The server falls
// back to it when object storage is disabled; download URLs point at BaseURL
// and are not signed.
type MemoryObjectStorage struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryObjectStorage creates an empty in-memory store
func NewMemoryObjectStorage(baseURL string) *MemoryObjectStorage {
	if baseURL == "" {
		baseURL = "http://localhost:8080/attachments"
	}
	return &MemoryObjectStorage{
		BaseURL: baseURL,
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryObjectStorage) Upload(_ context.Context, storageKey string, data []byte, contentType string) error {
	if storageKey == "" {
		return errKeyRequired
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[storageKey] = memoryObject{data: buf, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryObjectStorage) GenerateDownloadURL(_ context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, errKeyRequired
	}
	expiresAt := time.Now().Add(expiresIn)
	u, err := url.JoinPath(s.BaseURL, storageKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return u + "?expires=" + url.QueryEscape(expiresAt.UTC().Format(time.RFC3339)), expiresAt, nil
}

// DeleteObject removes storageKey. Deleting a missing key is not an error,
// matching S3.
func (s *MemoryObjectStorage) DeleteObject(_ context.Context, storageKey string) error {
	if storageKey == "" {
		return errKeyRequired
	}
	s.mu.Lock()
	delete(s.objects, storageKey)
	s.mu.Unlock()
	return nil
}

func (s *MemoryObjectStorage) ObjectExists(_ context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, errKeyRequired
	}
	s.mu.RLock()
	_, ok := s.objects[storageKey]
	s.mu.RUnlock()
	return ok, nil
}

// Get returns a copy of the stored bytes and content type
func (s *MemoryObjectStorage) Get(storageKey string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[storageKey]
	if !ok {
		return nil, "", false
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, obj.contentType, true
}

// Len reports how many objects are stored
func (s *MemoryObjectStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
