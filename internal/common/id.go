package common

import (
	"github.com/google/uuid"
)

// NewInstanceID generates a unique identifier for one engine run, used in
// startup logging so logs from concurrent instances can be told apart.
// Format: run_<uuid>
func NewInstanceID() string {
	return "run_" + uuid.New().String()
}
