package device

import (
	"bufio"
	"regexp"
	"strings"
)

// Mode is the security context mode of an appliance.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeMultiple Mode = "multiple"
)

// SystemContext is the reserved partition coordinating shared resources
// on a multiple-context appliance.
const SystemContext = "system"

// InsideInterfaceToken forces the inside interface as the traffic
// source when appended to a copy destination URL. The native backup
// command rejects it, so it must never reach one.
const InsideInterfaceToken = ";int=inside"

// Facts is what probing learned about an appliance. Immutable once
// probed; planning decisions read from it.
type Facts struct {
	Version      Version `json:"version"`
	VersionKnown bool    `json:"version_known"`
	Mode         Mode    `json:"mode"`
	// Contexts is empty in single mode. In multiple mode it starts
	// with the system partition, then the device-reported order.
	Contexts []string `json:"contexts,omitempty"`
	// InterfaceHack is empty or InsideInterfaceToken.
	InterfaceHack string `json:"interface_hack,omitempty"`
	FailoverOn    bool   `json:"failover_on"`
}

// SupportsNativeBackup reports whether the native backup command can be
// used. Unknown versions count as too old.
func (f Facts) SupportsNativeBackup() bool {
	return f.VersionKnown && f.Version.AtLeast(nativeBackupMin)
}

var (
	modeRe     = regexp.MustCompile(`Security context mode: (single|multiple)`)
	contextRe  = regexp.MustCompile(`^[ *]([A-Za-z0-9-]+)`)
	failoverRe = regexp.MustCompile(`(?m)^Failover (On|Off)`)
	insideUpRe = regexp.MustCompile(`(?m)^Interface.*inside.*is up`)
)

// parseMode classifies "show mode" output.
func parseMode(output string) (Mode, bool) {
	m := modeRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return Mode(m[1]), true
}

// parseContexts extracts context names from "show context" output in
// device order. Header, echo and prompt lines never start with the
// space or active-marker column, so the line pattern alone filters
// them.
func parseContexts(output string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		if m := contextRe.FindStringSubmatch(sc.Text()); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}

// parseFailover reads the failover state line; absent means off.
func parseFailover(output string) bool {
	m := failoverRe.FindStringSubmatch(output)
	return m != nil && m[1] == "On"
}

// parseInterfaceHack reports the routing token when the inside
// interface exists and is up. Devices without the show filter print an
// invalid-input marker instead, which simply yields no match.
func parseInterfaceHack(output string) string {
	if insideUpRe.MatchString(output) {
		return InsideInterfaceToken
	}
	return ""
}
