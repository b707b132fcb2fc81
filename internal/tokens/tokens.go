// Package tokens persists vendor session tokens in a JSON file so accounts
// can resume without a password login.
package tokens

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Account types that share one Xiaomi passToken.
const (
	keyXiaomi     = "xiaomi"
	keyMiFitness  = "mifitness"
	keyXiaomiHome = "xiaomihome"
)

// Store maps "type:username" keys to tokens. The file is read once, on first
// use, and rewritten on every Save.
type Store struct {
	path string

	mu     sync.Mutex
	loaded bool
	tokens map[string]string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path, tokens: map[string]string{}}
}

// Load returns the token saved under key, or "".
func (s *Store) Load(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()
	return s.tokens[normalizeKey(key)]
}

// Save stores token under key and writes the file.
func (s *Store) Save(key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()
	s.tokens[normalizeKey(key)] = token

	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return err
	}
	if err = os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("tokens: write %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) load() {
	if s.loaded {
		return
	}
	s.loaded = true

	// A missing or unreadable file starts an empty store.
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	if err = json.Unmarshal(data, &s.tokens); err != nil || s.tokens == nil {
		s.tokens = map[string]string{}
	}
}

// normalizeKey stores both Xiaomi apps under the xiaomi account type.
func normalizeKey(key string) string {
	switch k, v, _ := strings.Cut(key, ":"); k {
	case keyMiFitness, keyXiaomiHome:
		return keyXiaomi + ":" + v
	}
	return key
}
