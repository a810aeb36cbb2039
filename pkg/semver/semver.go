package semver

import (
	"fmt"
	"regexp"
	"strings"

	sv "github.com/Masterminds/semver"
)

type Version = sv.Version

var NewConstraint = sv.NewConstraint

func Parse(s string) (*Version, error) {
	fixedS := nonSemverWorkaround(strings.TrimSpace(strings.TrimPrefix(s, "v")))

	return sv.NewVersion(fixedS)
}

// Stable truncates v to MAJOR.MINOR.PATCH, dropping any prerelease or build
// metadata. Installed and target versions are compared at this granularity.
func Stable(v *Version) *Version {
	truncated, err := sv.NewVersion(fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()))
	if err != nil {
		// Major/Minor/Patch of a parsed version always reassemble.
		panic(err)
	}
	return truncated
}

// IsStable reports whether v carries no prerelease suffix.
func IsStable(v *Version) bool {
	return v.Prerelease() == ""
}

var versionRegex *regexp.Regexp

func init() {
	versionRegex = regexp.MustCompile(`v?([0-9]+)(\.[0-9]+)?(\.[0-9]+)?` + `(.*)`)
}

// nonSemverWorkaround turns versions like "1.2.3.4" into the parseable
// "1.2.3-4" so that tags which are not precisely semver still order.
func nonSemverWorkaround(s string) string {
	matches := versionRegex.FindStringSubmatch(s)

	var preLike string

	if len(matches) > 3 {
		preLike = matches[4]
	}

	if preLike != "" && preLike[0] == '.' {
		s = ""
		ss := matches[1:4]
		for i := range ss {
			if ss[i] != "" {
				s += ss[i]
			}
		}

		s += "-" + preLike[1:]
	}

	return s
}
