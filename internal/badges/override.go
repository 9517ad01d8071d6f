package badges

import (
	"sort"

	"github.com/routeflow/fleet-tracker/internal/db"
)

// ResolveOverrides produces the final badge set from the computed candidates
// and the stored override map. Suppressed badges are removed and pinned
// badges forced in, regardless of the candidate state. Pin/unpin is the only
// human-editable badge control; direct badge mutation is disallowed.
func ResolveOverrides(candidates []string, overrides map[string]db.BadgeOverride) []string {
	final := make(map[string]struct{}, len(candidates))
	for _, badge := range candidates {
		final[badge] = struct{}{}
	}

	for badge, override := range overrides {
		if override.ForcesExclude() {
			delete(final, badge)
		} else if override.ForcesInclude() {
			final[badge] = struct{}{}
		}
	}

	out := make([]string, 0, len(final))
	for badge := range final {
		out = append(out, badge)
	}
	sort.Strings(out)
	return out
}
