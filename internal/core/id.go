package core

import (
	"github.com/google/uuid"
)

// NewID returns a random UUID in its canonical string form.
func NewID() string {
	return uuid.NewString()
}
