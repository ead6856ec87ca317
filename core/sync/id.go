package sync

import "github.com/google/uuid"

// newID returns a short random synchronizer id, used when the owner does not
// assign one.
func newID() string {
	return uuid.NewString()[:4]
}
