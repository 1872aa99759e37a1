package enode

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kilianp07/citro80/core/chargekill"
)

// ErrNotFound is matched by *APIError values carrying a 404 status.
var ErrNotFound = errors.New("enode: not found")

// APIError is returned for non-2xx responses.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("enode: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Is lets errors.Is match 404 responses against ErrNotFound and
// chargekill.ErrActionNotFound.
func (e *APIError) Is(target error) bool {
	if e.Status != http.StatusNotFound {
		return false
	}
	return target == ErrNotFound || target == chargekill.ErrActionNotFound
}

// Transient reports whether the request may succeed when retried.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
