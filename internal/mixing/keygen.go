package mixing

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID produces a new unique record identifier: a UUID v4 without
// dashes. Mappers which partition records per year prepend the four-digit
// year to this value.
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
