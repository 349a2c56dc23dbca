package names

import (
	"regexp"
	"strings"
)

// Container names accept [a-zA-Z0-9][a-zA-Z0-9_.-]*. Test names contain
// slashes and spaces, so they are normalized before use.
const maxNameLength = 63

var (
	validName     = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	invalidChars  = regexp.MustCompile(`[^a-z0-9-]+`)
	duplicateDash = regexp.MustCompile(`-+`)
)

// NormalizeName returns a string usable as a container name.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	if len(name) <= maxNameLength && validName.MatchString(name) {
		return name
	}

	name = invalidChars.ReplaceAllString(name, "-")

	// Remove duplicate `-` resulting from contiguous non-allowed chars.
	name = duplicateDash.ReplaceAllString(name, "-")

	name = strings.Trim(name, "-")

	if len(name) > maxNameLength {
		name = strings.Trim(name[0:maxNameLength], "-")
	}
	return name
}
