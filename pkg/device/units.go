package device

import "fmt"

// Kind names a backup unit flavor.
type Kind string

const (
	// KindTechSupport captures the diagnostic dump. Always planned,
	// always first.
	KindTechSupport Kind = "tech-support"
	// KindArchive runs the native backup command (9.3 and later).
	KindArchive Kind = "backup-archive"
	// KindLegacyConfig copies a config straight off the device
	// (pre-9.3 releases).
	KindLegacyConfig Kind = "legacy-config"
)

// Unit is one planned backup artifact. Built by the planner, executed
// once by a session.
type Unit struct {
	Kind Kind `json:"kind"`
	// Context scopes an archive on a multiple-context appliance.
	Context string `json:"context,omitempty"`
	// Source is the device-side object of a legacy copy, e.g.
	// "running-config".
	Source string `json:"source,omitempty"`
	// Filename is the artifact name at the destination and, for staged
	// kinds, the flash staging name.
	Filename string `json:"filename"`
	// Dest is the full copy destination URL. It embeds the backup
	// account credentials, which is how the device's copy command
	// works; treat the value as a secret.
	Dest string `json:"-"`
}

// Label identifies the unit in logs and reports.
func (u Unit) Label() string {
	switch {
	case u.Context != "":
		return fmt.Sprintf("%s[%s]", u.Kind, u.Context)
	case u.Source != "":
		return fmt.Sprintf("%s[%s]", u.Kind, u.Source)
	default:
		return string(u.Kind)
	}
}
