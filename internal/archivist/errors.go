package archivist

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotActive indicates an operation that requires an active
// session was attempted on a completed or abandoned one. Terminal states
// accept no further mutation.
var ErrSessionNotActive = errors.New("session is not active")

// MissingFieldsError reports a commit attempt on an incomplete record.
// It names every missing required field so callers can present
// actionable feedback.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}
