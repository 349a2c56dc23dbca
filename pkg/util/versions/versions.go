package versions

import (
	"fmt"
	"regexp"

	"github.com/blang/semver"
	"github.com/pkg/errors"
)

// mongod prints its version as "db version v4.0.27" both in the --version
// output and in the startup log.
var reportedVersionPattern = regexp.MustCompile(`(?i)db version v(\d+\.\d+\.\d+)`)

// FromVersionOutput extracts the semantic version from mongod --version
// output.
func FromVersionOutput(output string) (string, error) {
	match := reportedVersionPattern.FindStringSubmatch(output)
	if match == nil {
		return "", errors.Errorf("no version string found in output: %q", output)
	}
	return match[1], nil
}

// MatchesRange reports whether version satisfies the given semver range,
// e.g. ">=4.0.0 <5.0.0".
func MatchesRange(version, vRange string) (bool, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return false, err
	}
	expectedRange, err := semver.ParseRange(vRange)
	if err != nil {
		return false, err
	}
	return expectedRange(v), nil
}

// CalculateFeatureCompatibilityVersion returns a version in the format of "x.y"
func CalculateFeatureCompatibilityVersion(versionStr string) string {
	v1, err := semver.Make(versionStr)
	if err != nil {
		return ""
	}

	if v1.GTE(semver.MustParse("3.4.0")) {
		return fmt.Sprintf("%d.%d", v1.Major, v1.Minor)
	}

	return ""
}
