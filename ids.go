package feedbroker

import (
	"strings"

	"github.com/google/uuid"
)

// newItemID mints a fresh item/job id (spec §4.4 step 1: "generate a fresh
// id (uuid hex)"), matching the original's uuid.uuid4().hex — dashless,
// lowercase hex — rather than Go's canonical dashed String() form.
func newItemID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
