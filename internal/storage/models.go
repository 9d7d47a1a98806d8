package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered chat question.
type Interaction struct {
	ID        string
	CreatedAt time.Time
	Question  string
	Prompt    string
	Model     string
	Response  string
	Status    string // "completed" or "backend_error"
	Missing   string // JSON array of snapshot domains that could not be read
}

// TrainingRun records one training attempt, successful or not.
type TrainingRun struct {
	ID            string
	CreatedAt     time.Time
	Source        string // "api", "cli", "mcp", "scheduler"
	ContractsUsed int
	Positives     int
	Trained       bool
	Error         string
}
