// Package iteration decides whether a service should run another
// iteration.
package iteration

import (
	"os"

	"github.com/shambakey1/vifinode/pkg/manifest"
)

// ShouldIterate implements the four-step decision: a present stop
// marker always wins, a nil iteration config never iterates, an "inf"
// cap always iterates, and otherwise the service iterates while
// curIter is still below max_rep.
func ShouldIterate(iter *manifest.Iterative, stopMarkerPath string) bool {
	if _, err := os.Stat(stopMarkerPath); err == nil {
		return false
	}
	if iter == nil {
		return false
	}
	if iter.MaxRep.Inf {
		return true
	}
	return iter.CurIter < iter.MaxRep.Value
}
