package openapitools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registration is a persisted registration request.
type Registration struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Source      string     `json:"source"`
	Type        SourceType `json:"type"`
	Description string     `json:"description,omitempty"`
	Strict      bool       `json:"strict,omitempty"`
	AllowCycles bool       `json:"allow_cycles,omitempty"`
	RateLimit   float64    `json:"rate_limit,omitempty"`
	Burst       int        `json:"burst,omitempty"`
	Timeout     Duration   `json:"timeout,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Duration is a time.Duration stored as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type storeFile struct {
	Registrations map[string]Registration `json:"registrations"`
	Descriptions  map[string]string       `json:"descriptions"`
}

// Store keeps registrations and tool description overrides in a JSON file.
// It is cached in memory and every mutation is written to disk atomically.
type Store struct {
	mu       sync.RWMutex
	data     storeFile
	filePath string
}

// OpenStore opens the store at path, loading it when the file exists.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}

	s := &Store{filePath: path, data: emptyStoreFile()}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("failed to load existing store: %w", err)
	}
	return s, nil
}

func emptyStoreFile() storeFile {
	return storeFile{
		Registrations: make(map[string]Registration),
		Descriptions:  make(map[string]string),
	}
}

// Put stores reg under reg.Name, assigning an ID and timestamp when missing.
// Mutations that fail to save leave the in-memory state unchanged.
func (s *Store) Put(reg Registration) (Registration, error) {
	if reg.Name == "" {
		return Registration{}, fmt.Errorf("registration name cannot be empty")
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data.Registrations[reg.Name]
	s.data.Registrations[reg.Name] = reg
	if err := s.saveUnlocked(); err != nil {
		if existed {
			s.data.Registrations[reg.Name] = prev
		} else {
			delete(s.data.Registrations, reg.Name)
		}
		return Registration{}, err
	}
	return reg, nil
}

// Get returns the registration named name.
func (s *Store) Get(name string) (Registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.data.Registrations[name]
	return reg, ok
}

// Delete removes the registration named name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data.Registrations[name]
	if !ok {
		return nil
	}
	delete(s.data.Registrations, name)
	if err := s.saveUnlocked(); err != nil {
		s.data.Registrations[name] = prev
		return err
	}
	return nil
}

// All returns every registration ordered by creation time, then name.
func (s *Store) All() []Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Registration, 0, len(s.data.Registrations))
	for _, reg := range s.data.Registrations {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SetDescription records a description override for a tool.
func (s *Store) SetDescription(tool, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data.Descriptions[tool]
	s.data.Descriptions[tool] = description
	if err := s.saveUnlocked(); err != nil {
		if existed {
			s.data.Descriptions[tool] = prev
		} else {
			delete(s.data.Descriptions, tool)
		}
		return err
	}
	return nil
}

// ClearDescription drops the override for a tool.
func (s *Store) ClearDescription(tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data.Descriptions[tool]
	if !ok {
		return nil
	}
	delete(s.data.Descriptions, tool)
	if err := s.saveUnlocked(); err != nil {
		s.data.Descriptions[tool] = prev
		return err
	}
	return nil
}

// Description returns the override for a tool.
func (s *Store) Description(tool string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.data.Descriptions[tool]
	return d, ok
}

// Save persists the store to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveUnlocked()
}

// saveUnlocked writes the store using the temp file + rename pattern.
// Caller must hold the write lock.
func (s *Store) saveUnlocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	if dir := filepath.Dir(s.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp store file: %w", err)
	}

	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename store file: %w", err)
	}
	return nil
}

// Load reloads the store from disk. A missing file yields an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = emptyStoreFile()
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}

	loaded := emptyStoreFile()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse store file: %w", err)
	}
	if loaded.Registrations == nil {
		loaded.Registrations = make(map[string]Registration)
	}
	if loaded.Descriptions == nil {
		loaded.Descriptions = make(map[string]string)
	}

	s.data = loaded
	return nil
}
