package trainer

import (
	"fmt"

	"github.com/fedora-copr/rpmeta/pkg/feature"
)

// InsufficientDataError reports a category with too few labeled pairs to
// train on. Recoverable by gathering more history; no model is produced.
type InsufficientDataError struct {
	Category feature.Category
	Have     int
	Need     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("category %q has %d samples, %d required", e.Category, e.Have, e.Need)
}
