package id

import "github.com/google/uuid"

// New returns a random (version 4) UUID string for jobs.
func New() string {
	return uuid.NewString()
}
