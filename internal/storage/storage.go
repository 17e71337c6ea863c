package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Storage is a scoped, synchronous key-value store that survives restarts of the
// process, the same contract a browser gives an application through localStorage.
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	SetItems(items map[string]string) error
	RemoveItem(keys ...string) error
	Keys() ([]string, error)
}

const (
	documentName    = "storage.json"
	documentVersion = 1
)

var (
	// ErrUnsupportedVersion is returned when the storage document was written by a newer release.
	ErrUnsupportedVersion = errors.New("unsupported storage version")

	// ErrCorruptDocument is returned when the storage document is not valid JSON.
	// Writes replace a corrupt document instead of failing.
	ErrCorruptDocument = errors.New("corrupt storage document")
)

// document is the on-disk layout of a FileStorage.
type document struct {
	Version int               `json:"version"`
	Items   map[string]string `json:"items"`
}

// FileStorage keeps all items in a single JSON document on the local filesystem.
type FileStorage struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStorage creates a file backed storage.
// If baseDir is empty, uses ~/.storefront/
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".storefront")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("file storage initialized")

	return &FileStorage{baseDir: baseDir}, nil
}

// Path returns the location of the storage document.
func (s *FileStorage) Path() string {
	return filepath.Join(s.baseDir, documentName)
}

func (s *FileStorage) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", false, err
	}

	value, ok := doc.Items[key]
	return value, ok, nil
}

func (s *FileStorage) SetItem(key, value string) error {
	return s.SetItems(map[string]string{key: value})
}

// SetItems writes all items in a single document update.
func (s *FileStorage) SetItems(items map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.loadForWrite()
	if err != nil {
		return err
	}

	for key, value := range items {
		doc.Items[key] = value
	}

	return s.save(doc)
}

// RemoveItem deletes the given keys. Missing keys are ignored.
func (s *FileStorage) RemoveItem(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, changed, err := s.loadForWrite()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if _, ok := doc.Items[key]; ok {
			delete(doc.Items, key)
			changed = true
		}
	}

	if !changed {
		return nil
	}

	return s.save(doc)
}

func (s *FileStorage) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	return sortedKeys(doc.Items), nil
}

// load reads the storage document, a missing file is an empty document.
func (s *FileStorage) load() (*document, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Version: documentVersion, Items: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("failed to read storage: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	if doc.Version > documentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	if doc.Items == nil {
		doc.Items = make(map[string]string)
	}
	doc.Version = documentVersion

	return &doc, nil
}

// loadForWrite is load, except a corrupt document is discarded and replaced by an
// empty one. reset reports whether that happened so the caller rewrites the file.
func (s *FileStorage) loadForWrite() (doc *document, reset bool, err error) {
	doc, err = s.load()
	if errors.Is(err, ErrCorruptDocument) {
		log.Warn().Err(err).Str("path", s.Path()).Msg("discarding corrupt storage document")
		return &document{Version: documentVersion, Items: make(map[string]string)}, true, nil
	}
	return doc, false, err
}

// save writes the storage document atomically.
func (s *FileStorage) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage: %w", err)
	}

	path := s.Path()
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save storage: %w", err)
	}

	return nil
}

// MemoryStorage implements Storage in memory.
// Data is lost when the process exits.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (m *MemoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.items[key]
	return value, ok, nil
}

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = value
	return nil
}

func (m *MemoryStorage) SetItems(items map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, value := range items {
		m.items[key] = value
	}
	return nil
}

func (m *MemoryStorage) RemoveItem(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStorage) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return sortedKeys(m.items), nil
}

func sortedKeys(items map[string]string) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
