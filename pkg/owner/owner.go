package owner

import (
	"strings"

	"github.com/memvault/memvault/pkg/errors"
)

// ID identifies the user that owns a set of memories, messages, and a profile.
// Every store and worker operation takes an explicit ID parameter; ownership
// is never inferred from ambient state.
type ID string

// Validate checks that the ID is usable as an isolation key.
func (id ID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return errors.ErrOwnerContext
	}
	return nil
}

// String returns the ID as a plain string.
func (id ID) String() string {
	return string(id)
}
