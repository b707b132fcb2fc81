// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Job origins.
const (
	SourceConfig = "config"
	SourceRepeat = "repeat"
	SourceStdin  = "stdin"
)

// Job is one sync document waiting to be run.
type Job struct {
	ID         uuid.UUID
	Source     string // where the payload came from
	Payload    []byte // raw YAML or JSON sync document
	ReceivedAt time.Time
}

// NewJob stamps payload with a fresh id and the current time.
func NewJob(source string, payload []byte) Job {
	return Job{
		ID:         uuid.New(),
		Source:     source,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}
}
