package domain

import "github.com/google/uuid"

// NewID returns a random 128-bit identifier. The id space is large enough that
// no registry of issued ids is kept.
func NewID() string {
	return uuid.NewString()
}
