package geo

import "sort"

// Ranked is a device annotated with its computed tier.
type Ranked struct {
	Device
	CalculatedPriority int          `json:"calculatedPriority"`
	Rule               PriorityRule `json:"rule"`
}

// FilterAndSortDevices ranks devices for display. Devices whose tier is not
// always visible are dropped below detail zoom. Equal tiers keep input order.
func FilterAndSortDevices(devices []Device, c Context) []Ranked {
	out := make([]Ranked, 0, len(devices))
	for _, d := range devices {
		p := CalculatePriority(d, c)
		rule := RuleForPriority(p)
		if c.MapZoom < detailZoom && !rule.AlwaysVisible {
			continue
		}
		out = append(out, Ranked{Device: d, CalculatedPriority: p, Rule: rule})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CalculatedPriority < out[j].CalculatedPriority
	})
	return out
}
