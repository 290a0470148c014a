package device

import (
	"fmt"
	"regexp"
	"strconv"
)

// versionRe matches the version token of a "show version" line, e.g.
// "Cisco Adaptive Security Appliance Software Version 9.12(4)8".
// Maintenance and interim parts are optional on older trains.
var versionRe = regexp.MustCompile(`Version (\d+)\.(\d+)(?:\((\d+)\))?(\d+)?`)

// Version is an appliance software version.
type Version struct {
	Major       int
	Minor       int
	Maintenance int
	Interim     int
}

// nativeBackupMin is the first release train shipping the native
// "backup" command.
var nativeBackupMin = Version{Major: 9, Minor: 3}

// ParseVersion extracts the first version token from probe output.
// ok is false when the output carries none, which callers treat as an
// unknown, pre-backup-command release.
func ParseVersion(output string) (v Version, ok bool) {
	m := versionRe.FindStringSubmatch(output)
	if m == nil {
		return Version{}, false
	}
	v.Major = atoi(m[1])
	v.Minor = atoi(m[2])
	v.Maintenance = atoi(m[3])
	v.Interim = atoi(m[4])
	return v, true
}

// Comparable collapses a version to one ordered number. Minor trains
// stay below 1000, so major + minor/1000 sorts releases correctly:
// 9.3 < 9.12 < 10.0.
func (v Version) Comparable() float64 {
	return float64(v.Major) + float64(v.Minor)/1000
}

// AtLeast reports whether v sorts at or after other.
func (v Version) AtLeast(other Version) bool {
	return v.Comparable() >= other.Comparable()
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d", v.Major, v.Minor)
	if v.Maintenance > 0 {
		s += fmt.Sprintf("(%d)", v.Maintenance)
	}
	if v.Interim > 0 {
		s += strconv.Itoa(v.Interim)
	}
	return s
}

// atoi converts digit-only matcher captures; an empty capture is 0.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
