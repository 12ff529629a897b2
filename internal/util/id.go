package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a URL-safe request id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
