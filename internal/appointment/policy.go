package appointment

import "time"

// UnitsPolicy converts an appointment's time span into billable units.
// The conversion rate is deployment configuration, so the service takes
// the policy as an injected function.
type UnitsPolicy func(start, end time.Time) int

// UnitsPerInterval returns the standard policy: one unit per started
// interval, so a 50-minute appointment at a 15-minute interval needs 4
// units. Spans that are empty or negative yield zero units and are
// rejected by the service.
func UnitsPerInterval(interval time.Duration) UnitsPolicy {
	return func(start, end time.Time) int {
		span := end.Sub(start)
		if span <= 0 || interval <= 0 {
			return 0
		}
		units := int(span / interval)
		if span%interval != 0 {
			units++
		}
		return units
	}
}
