package analysis

import "github.com/google/uuid"

// NewTaskID returns a random 128-bit identifier for a background task. No
// registry of issued ids is kept; collisions are negligible.
func NewTaskID() string {
	return uuid.New().String()
}
