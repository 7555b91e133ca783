package core

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ColumnNotFoundError is returned by ResolveColumn when neither the requested
// column nor any fallback is present. Available lists the file's headers
// verbatim so the operator can correct the request.
type ColumnNotFoundError struct {
	Requested string
	Fallbacks []string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column not found: %q (available: %s)", e.Requested, strings.Join(e.Available, ", "))
}

// ResolveColumn picks the header that holds the query values.
//
// An exact, case-sensitive match on requested wins. Otherwise the first
// fallback present in headers is used. An empty requested name never
// matches and goes straight to the fallbacks.
func ResolveColumn(headers []string, requested string, fallbacks []string) (string, error) {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}

	if requested != "" && present[requested] {
		return requested, nil
	}

	for _, f := range fallbacks {
		if f != "" && present[f] {
			return f, nil
		}
	}

	available := make([]string, len(headers))
	copy(available, headers)

	var err error = &ColumnNotFoundError{
		Requested: requested,
		Fallbacks: fallbacks,
		Available: available,
	}
	return "", errors.WithHintf(err, "available columns: %s", strings.Join(available, ", "))
}

// AsColumnNotFound unwraps err to a *ColumnNotFoundError if it is one.
func AsColumnNotFound(err error) (*ColumnNotFoundError, bool) {
	var cnf *ColumnNotFoundError
	if errors.As(err, &cnf) {
		return cnf, true
	}
	return nil, false
}
