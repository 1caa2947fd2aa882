package cot

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var eventMarker = []byte("<event")

// ErrParse is matched by every error Decode returns.
var ErrParse = errors.New("cot: parse error")

// ParseError describes a chunk that looked like CoT but could not be decoded.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cot: parse error: %v", e.Err)
	}
	return fmt.Sprintf("cot: parse error in %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

type wireEvent struct {
	XMLName xml.Name   `xml:"event"`
	UID     string     `xml:"uid,attr"`
	Type    string     `xml:"type,attr"`
	How     string     `xml:"how,attr"`
	Time    string     `xml:"time,attr"`
	Start   string     `xml:"start,attr"`
	Stale   string     `xml:"stale,attr"`
	Point   wirePoint  `xml:"point"`
	Detail  wireDetail `xml:"detail"`
}

type wirePoint struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	HAE string `xml:"hae,attr"`
	CE  string `xml:"ce,attr"`
	LE  string `xml:"le,attr"`
}

type wireDetail struct {
	Contact *struct {
		Callsign string `xml:"callsign,attr"`
	} `xml:"contact"`
	Video *struct {
		URL string `xml:"url,attr"`
	} `xml:"__video"`
	Group *struct {
		Name string `xml:"name,attr"`
		Role string `xml:"role,attr"`
	} `xml:"__group"`
	Track *struct {
		Speed  string `xml:"speed,attr"`
		Course string `xml:"course,attr"`
	} `xml:"track"`
	Remarks  string `xml:"remarks"`
	Priority string `xml:"priority"`
	Status   *struct {
		Battery string `xml:"battery,attr"`
		Text    string `xml:",chardata"`
	} `xml:"status"`
}

// Decode parses one inbound chunk. Chunks without an "<event" marker are not
// CoT (keep-alives, partial reads) and yield (nil, nil). The chunk is assumed
// to hold one complete document starting at the marker.
func Decode(chunk []byte) (*Event, error) {
	idx := bytes.Index(chunk, eventMarker)
	if idx < 0 {
		return nil, nil
	}

	var w wireEvent
	if err := xml.Unmarshal(chunk[idx:], &w); err != nil {
		return nil, &ParseError{Err: err}
	}
	if w.UID == "" {
		return nil, &ParseError{Field: "uid", Err: errors.New("missing")}
	}

	ev := &Event{UID: w.UID, Type: w.Type, How: w.How}

	var err error
	if ev.Time, err = parseTime("time", w.Time); err != nil {
		return nil, err
	}
	if ev.Start, err = parseTime("start", w.Start); err != nil {
		return nil, err
	}
	if ev.Stale, err = parseTime("stale", w.Stale); err != nil {
		return nil, err
	}

	if ev.Point.Lat, err = parseFloat("point.lat", w.Point.Lat); err != nil {
		return nil, err
	}
	if ev.Point.Lon, err = parseFloat("point.lon", w.Point.Lon); err != nil {
		return nil, err
	}
	if ev.Point.HAE, err = parseFloat("point.hae", w.Point.HAE); err != nil {
		return nil, err
	}
	if ev.Point.CE, err = parseFloat("point.ce", w.Point.CE); err != nil {
		return nil, err
	}
	if ev.Point.LE, err = parseFloat("point.le", w.Point.LE); err != nil {
		return nil, err
	}

	decodeDetail(&ev.Detail, &w.Detail)
	return ev, nil
}

// detail fields are free-form; bad values are dropped instead of failing the event
func decodeDetail(d *Detail, w *wireDetail) {
	if w.Contact != nil {
		d.Callsign = w.Contact.Callsign
	}
	if w.Video != nil {
		d.VideoURL = w.Video.URL
	}
	if w.Group != nil {
		d.Group = w.Group.Name
		d.Role = w.Group.Role
	}
	if w.Track != nil {
		d.Speed, _ = strconv.ParseFloat(strings.TrimSpace(w.Track.Speed), 64)
		d.Course, _ = strconv.ParseFloat(strings.TrimSpace(w.Track.Course), 64)
	}
	d.Remarks = w.Remarks
	if p, err := strconv.Atoi(strings.TrimSpace(w.Priority)); err == nil {
		d.Priority = p
	}
	if w.Status != nil {
		d.Status = strings.TrimSpace(w.Status.Text)
		if b, err := strconv.Atoi(strings.TrimSpace(w.Status.Battery)); err == nil {
			d.Battery = &b
		}
	}
}

func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &ParseError{Field: field, Err: err}
	}
	return t.UTC(), nil
}

func parseFloat(field, s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ParseError{Field: field, Err: err}
	}
	return v, nil
}
