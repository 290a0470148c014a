// Package retention names the rotation slot a backup run is filed under.
package retention

import (
	"fmt"
	"time"
)

// Slot returns the rotation slot for one run date. Exactly one of three
// buckets applies: yearly on January 1st, monthly on the first day of any
// other month, daily otherwise. Daily slots are keyed by weekday with
// Sunday as 0. Artifacts of a later run in the same slot overwrite the
// previous ones, which keeps seven dailies, twelve monthlies and one
// yearly per year at the destination.
func Slot(t time.Time) string {
	switch {
	case t.Day() == 1 && t.Month() == time.January:
		return fmt.Sprintf("yearly_%d", t.Year())
	case t.Day() == 1:
		return fmt.Sprintf("monthly_%02d", int(t.Month()))
	default:
		return fmt.Sprintf("daily_%d", int(t.Weekday()))
	}
}
