package task

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates an opaque 8-char lowercase hex task ID (spec.md §3),
// taken from the front of a fresh UUID4 — the same idea as the teacher's
// idgen.go, minus the dashes and trimmed to 8 chars since full UUIDs are
// overkill for a human-facing task identifier.
func NewID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:8]
}
