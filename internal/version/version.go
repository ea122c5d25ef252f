package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Release is a parsed release tag: vMAJOR.MINOR.PATCH[-PATCH2].
type Release struct {
	Major  int
	Minor  int
	Patch  int
	Patch2 int
}

// GzipLibraryCutover is the first release whose shared-library asset is
// published gzip-compressed.
var GzipLibraryCutover = Release{Major: 0, Minor: 0, Patch: 219, Patch2: 0}

// Normalize strips a single leading "v".
func Normalize(v string) string {
	return strings.TrimPrefix(v, "v")
}

// Tag returns the release tag form of v.
func Tag(v string) string {
	return "v" + Normalize(v)
}

// ParseReleaseTag parses a tag such as "v0.38.0" or "v0.0.219-3".
func ParseReleaseTag(tag string) (Release, error) {
	if !strings.HasPrefix(tag, "v") {
		return Release{}, fmt.Errorf("version tags must start with 'v': %q", tag)
	}
	main, patch2, hasPatch2 := strings.Cut(tag[1:], "-")
	parts := strings.Split(main, ".")
	if len(parts) != 3 {
		return Release{}, fmt.Errorf("expected semantic version tag, got %q", tag)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := parseComponent(p)
		if err != nil {
			return Release{}, fmt.Errorf("tag %q: %w", tag, err)
		}
		nums[i] = n
	}
	r := Release{Major: nums[0], Minor: nums[1], Patch: nums[2]}
	if hasPatch2 {
		n, err := parseComponent(patch2)
		if err != nil {
			return Release{}, fmt.Errorf("tag %q: %w", tag, err)
		}
		r.Patch2 = n
	}
	return r, nil
}

func parseComponent(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty version component")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("non-numeric version component %q", s)
	}
	return n, nil
}

// Compare returns -1, 0, or 1 comparing r to o lexicographically by
// (Major, Minor, Patch, Patch2).
func (r Release) Compare(o Release) int {
	a := [4]int{r.Major, r.Minor, r.Patch, r.Patch2}
	b := [4]int{o.Major, o.Minor, o.Patch, o.Patch2}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// Less reports whether r sorts strictly before o.
func (r Release) Less(o Release) bool { return r.Compare(o) < 0 }

// AtLeast reports whether r is at or after o.
func (r Release) AtLeast(o Release) bool { return r.Compare(o) >= 0 }

func (r Release) String() string {
	s := fmt.Sprintf("v%d.%d.%d", r.Major, r.Minor, r.Patch)
	if r.Patch2 != 0 {
		s += fmt.Sprintf("-%d", r.Patch2)
	}
	return s
}
