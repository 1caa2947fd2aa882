package geo

// Device statuses the priority rules react to.
const (
	StatusActive  = "active"
	StatusAlert   = "alert"
	StatusOffline = "offline"
)

const (
	defaultPriority = 3
	minPriority     = 1
	maxPriority     = 4

	nearKm     = 1.0
	veryNearKm = 0.5
	lowBattery = 20

	// below this zoom only always-visible tiers are drawn
	detailZoom = 12
)

// Device is a generic telemetry emitter (radio, phone, tracker).
type Device struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
	Priority *int     `json:"priority,omitempty"`
	Status   string   `json:"status"`
	Battery  *int     `json:"battery,omitempty"`
	Group    string   `json:"group,omitempty"`
}

// Location returns the device latitude and longitude.
func (d Device) Location() (float64, float64) { return d.Position.Lat, d.Position.Lon }

// Context is the viewer state priorities are computed against.
type Context struct {
	UserLocation *Position
	MapZoom      float64
}

// PriorityRule describes how a tier is rendered.
type PriorityRule struct {
	Tier          int    `json:"tier"`
	Color         string `json:"color"`
	ZIndex        int    `json:"zIndex"`
	AlwaysVisible bool   `json:"alwaysVisible"`
	Description   string `json:"description"`
}

var priorityRules = [...]PriorityRule{
	{Tier: 1, Color: "#ef4444", ZIndex: 1000, AlwaysVisible: true, Description: "Emergency"},
	{Tier: 2, Color: "#f97316", ZIndex: 900, AlwaysVisible: true, Description: "High priority"},
	{Tier: 3, Color: "#3b82f6", ZIndex: 800, AlwaysVisible: false, Description: "Normal"},
	{Tier: 4, Color: "#6b7280", ZIndex: 700, AlwaysVisible: false, Description: "Low priority"},
}

// RuleForPriority returns the rule of a tier. Unknown tiers get the normal rule.
func RuleForPriority(tier int) PriorityRule {
	if tier < minPriority || tier > maxPriority {
		return priorityRules[defaultPriority-1]
	}
	return priorityRules[tier-1]
}

// Rules returns a copy of the tier table.
func Rules() []PriorityRule {
	out := make([]PriorityRule, len(priorityRules))
	copy(out, priorityRules[:])
	return out
}

// CalculatePriority derives the display tier of a device.
//
// The adjustments run in a fixed order: proximity, alert override, offline
// penalty, low battery, clamp. An alert device that is also offline therefore
// ends at tier 3, not 1.
func CalculatePriority(d Device, c Context) int {
	p := defaultPriority
	if d.Priority != nil {
		p = *d.Priority
	}

	if c.UserLocation != nil {
		dist := DistanceKm(c.UserLocation.Lat, c.UserLocation.Lon, d.Position.Lat, d.Position.Lon)
		if dist < nearKm {
			p--
		}
		if dist < veryNearKm {
			p--
		}
	}

	if d.Status == StatusAlert {
		p = 1
	}
	if d.Status == StatusOffline {
		p += 2
	}
	if d.Battery != nil && *d.Battery < lowBattery {
		p--
	}

	return clamp(p)
}

func clamp(p int) int {
	if p < minPriority {
		return minPriority
	}
	if p > maxPriority {
		return maxPriority
	}
	return p
}
