package config

import (
	"errors"
)

// Bytes is a koanf provider over an in-memory document, used for inline
// -c '{...}' arguments and stdin lines.
type Bytes []byte

// ReadBytes returns the document.
func (b Bytes) ReadBytes() ([]byte, error) {
	return b, nil
}

// Read is not supported; the document needs a parser.
func (b Bytes) Read() (map[string]any, error) {
	return nil, errors.New("config: bytes provider requires a parser")
}
