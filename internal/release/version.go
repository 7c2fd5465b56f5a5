package release

import (
	"sort"
	"strings"
)

// PlatformVersionString builds the canonical version label for a set of
// platform versions: pairs are sorted platform-alphabetically and joined
// as version_platform segments, e.g. "7.0.0_android_6.7.0_ios". Pairs
// with an empty version are dropped. An empty result is "unknown".
func PlatformVersionString(pairs []PlatformVersion) string {
	kept := make([]PlatformVersion, 0, len(pairs))
	for _, p := range pairs {
		if p.Version == "" || p.Platform == "" {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return "unknown"
	}
	sort.Slice(kept, func(i, j int) bool {
		return strings.ToLower(string(kept[i].Platform)) < strings.ToLower(string(kept[j].Platform))
	})
	parts := make([]string, 0, len(kept))
	for _, p := range kept {
		parts = append(parts, p.Version+"_"+strings.ToLower(string(p.Platform)))
	}
	return strings.Join(parts, "_")
}
