package cot

import (
	"errors"
	"time"
)

// Well-known CoT codes used by this service.
const (
	TypeSensorPoint = "b-m-p-s-p-loc"
	TypePing        = "t-x-c-t"

	HowHumanEntered = "h-g-i-g-o"
	HowMachineGPS   = "m-g"

	// EntityStale is how long an entity announcement stays valid.
	EntityStale = 300 * time.Second

	defaultErr = 10.0
)

// ErrStaleBeforeTime is returned by Validate when Stale precedes Time.
var ErrStaleBeforeTime = errors.New("cot: stale precedes time")

// Point is the WGS84 position with height above ellipsoid and error radii.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	HAE float64 `json:"hae"`
	CE  float64 `json:"ce"`
	LE  float64 `json:"le"`
}

// Detail holds the subset of <detail> this service reads and writes.
// Battery, Group, Role, Speed and Course are only filled by Decode.
type Detail struct {
	Callsign string `json:"callsign,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
	Remarks  string `json:"remarks,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Status   string `json:"status,omitempty"`

	Battery *int    `json:"battery,omitempty"`
	Group   string  `json:"group,omitempty"`
	Role    string  `json:"role,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
	Course  float64 `json:"course,omitempty"`
}

// IsZero reports whether d encodes as an empty <detail/>.
func (d Detail) IsZero() bool {
	return d.Callsign == "" && d.VideoURL == "" && d.Remarks == "" &&
		d.Priority == 0 && d.Status == "" && d.Battery == nil &&
		d.Group == "" && d.Role == "" && d.Speed == 0 && d.Course == 0
}

// Event is one CoT message. Events are built per emission and never stored
// by the codec.
type Event struct {
	UID    string    `json:"uid"`
	Type   string    `json:"type"`
	How    string    `json:"how"`
	Time   time.Time `json:"time"`
	Start  time.Time `json:"start"`
	Stale  time.Time `json:"stale"`
	Point  Point     `json:"point"`
	Detail Detail    `json:"detail"`
}

// Validate checks the stale >= time invariant.
func (e Event) Validate() error {
	if e.Stale.Before(e.Time) {
		return ErrStaleBeforeTime
	}
	return nil
}

// TTL is how long the event stays valid after its own timestamp.
func (e Event) TTL() time.Duration {
	return e.Stale.Sub(e.Time)
}

// NewEntity returns an entity event stamped at now that goes stale after
// EntityStale.
func NewEntity(uid, typ string, now time.Time) Event {
	now = now.UTC()
	return Event{
		UID:   uid,
		Type:  typ,
		How:   HowHumanEntered,
		Time:  now,
		Start: now,
		Stale: now.Add(EntityStale),
		Point: Point{CE: defaultErr, LE: defaultErr},
	}
}

// NewPing returns the keep-alive event a client sends to hold its session.
func NewPing(uid string, now time.Time) Event {
	now = now.UTC()
	return Event{
		UID:   uid,
		Type:  TypePing,
		How:   HowMachineGPS,
		Time:  now,
		Start: now,
		Stale: now,
	}
}
