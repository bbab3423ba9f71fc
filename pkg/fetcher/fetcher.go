// Package fetcher pulls finished build results out of external build
// systems and turns them into build records ready for training.
package fetcher

import (
	"context"
	"strings"
	"time"

	"github.com/fedora-copr/rpmeta/pkg/dataset"
)

// Fetcher retrieves finished builds from one build system instance.
type Fetcher interface {
	// Fetch returns every successful build in the configured window as a
	// historical build record. Builds that lack the fields needed for a
	// record are skipped, not reported as errors.
	Fetch(ctx context.Context) ([]dataset.BuildRecord, error)
}

// Window bounds a fetch by build completion time. Zero values mean
// unbounded on that side.
type Window struct {
	Start time.Time
	End   time.Time
}

// splitEVR drops the release suffix from an EVR-style version string,
// "1.2.3-1.fc43" becoming "1.2.3".
func splitEVR(version string) string {
	if i := strings.LastIndex(version, "-"); i > 0 {
		return version[:i]
	}
	return version
}
