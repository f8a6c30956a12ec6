// Package ids generates the opaque 128-bit identifiers used for Image and
// Object rows.
package ids

import "github.com/google/uuid"

// New returns a new opaque 128-bit id encoded as a canonical UUID string.
func New() string {
	return uuid.NewString()
}
