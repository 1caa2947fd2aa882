package cot

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 form TAK servers expect.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Encode renders e as a CoT XML document. Field order is fixed so the output
// is byte-stable for identical input.
func Encode(e Event) []byte {
	var b bytes.Buffer
	b.Grow(512)

	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<event version="2.0"`)
	attr(&b, "uid", e.UID)
	attr(&b, "type", e.Type)
	attr(&b, "how", e.How)
	attr(&b, "time", formatTime(e.Time))
	attr(&b, "start", formatTime(e.Start))
	attr(&b, "stale", formatTime(e.Stale))
	b.WriteString(`>`)

	b.WriteString(`<point`)
	attr(&b, "lat", formatFloat(e.Point.Lat))
	attr(&b, "lon", formatFloat(e.Point.Lon))
	attr(&b, "hae", formatFloat(e.Point.HAE))
	attr(&b, "ce", formatFloat(e.Point.CE))
	attr(&b, "le", formatFloat(e.Point.LE))
	b.WriteString(`/>`)

	if e.Detail.IsZero() {
		b.WriteString(`<detail/>`)
	} else {
		d := e.Detail
		b.WriteString(`<detail>`)
		b.WriteString(`<contact`)
		attr(&b, "callsign", d.Callsign)
		b.WriteString(`/>`)
		if d.VideoURL != "" {
			b.WriteString(`<__video`)
			attr(&b, "url", d.VideoURL)
			b.WriteString(`/>`)
		}
		elem(&b, "remarks", d.Remarks)
		elem(&b, "priority", strconv.Itoa(d.Priority))
		elem(&b, "status", d.Status)
		b.WriteString(`</detail>`)
	}

	b.WriteString(`</event>`)
	return b.Bytes()
}

// EncodeString is Encode returning a string.
func EncodeString(e Event) string {
	return string(Encode(e))
}

func attr(b *bytes.Buffer, name, val string) {
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`="`)
	_ = xml.EscapeText(b, []byte(val))
	b.WriteByte('"')
}

func elem(b *bytes.Buffer, name, val string) {
	b.WriteByte('<')
	b.WriteString(name)
	b.WriteByte('>')
	_ = xml.EscapeText(b, []byte(val))
	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// formatFloat keeps a decimal point on whole numbers (10 -> "10.0").
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
