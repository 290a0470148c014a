// Package backup orchestrates one full backup run per firewall:
// preflight, session setup, fact probing, unit planning and execution,
// artifact verification and the run report.
package backup

import (
	"fmt"

	"asabackup/pkg/device"
)

// Target is the SCP destination the device delivers artifacts to.
type Target struct {
	User   string
	Secret string
	Host   string
	// Dir is the absolute per-firewall directory on the backup host.
	Dir string
}

// url builds the copy destination for one artifact. The device's copy
// command has no separate credential channel, so the secret rides in
// the URL. It must never reach logs or transcripts unmasked; the
// session transcript goes through expect.NewRedactWriter for exactly
// this reason.
func (t Target) url(filename string) string {
	return fmt.Sprintf("scp://%s:%s@%s%s/%s", t.User, t.Secret, t.Host, t.Dir, filename)
}

// PlanUnits derives the artifact list for one run. The tech-support
// capture always comes first. Devices at 9.3 or later get native
// archives, one per context in multiple mode; older or unknown
// versions fall back to plain config copies and the backup command is
// never issued. Every unit shares the same retention suffix.
//
// The interface routing token applies to copy destinations only, and
// Unit.Dest is consumed by nothing but copy commands, so appending it
// here covers every case.
func PlanUnits(facts device.Facts, suffix string, target Target) []device.Unit {
	dest := func(filename string) string {
		return target.url(filename) + facts.InterfaceHack
	}

	units := []device.Unit{{
		Kind:     device.KindTechSupport,
		Filename: fmt.Sprintf("tech-support_%s.txt", suffix),
	}}

	switch {
	case facts.SupportsNativeBackup() && facts.Mode == device.ModeMultiple:
		for _, ctx := range facts.Contexts {
			units = append(units, device.Unit{
				Kind:     device.KindArchive,
				Context:  ctx,
				Filename: fmt.Sprintf("backup_%s_%s.tar.gz", ctx, suffix),
			})
		}
	case facts.SupportsNativeBackup():
		units = append(units, device.Unit{
			Kind:     device.KindArchive,
			Filename: fmt.Sprintf("backup_%s.tar.gz", suffix),
		})
	default:
		units = append(units,
			device.Unit{
				Kind:     device.KindLegacyConfig,
				Source:   "running-config",
				Filename: fmt.Sprintf("running-config_%s.cfg", suffix),
			},
			device.Unit{
				Kind:     device.KindLegacyConfig,
				Source:   "startup-config",
				Filename: fmt.Sprintf("startup-config_%s.cfg", suffix),
			},
		)
	}

	for i := range units {
		units[i].Dest = dest(units[i].Filename)
	}
	return units
}
