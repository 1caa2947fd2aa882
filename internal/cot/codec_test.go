package cot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 9, 14, 30, 5, 123_000_000, time.UTC)

func cameraEvent() Event {
	ev := NewEntity("camera-cam1", TypeSensorPoint, fixedNow)
	ev.Point.Lat = 25.0338
	ev.Point.Lon = 121.5646
	ev.Point.HAE = 12.5
	ev.Detail = Detail{
		Callsign: "North Gate",
		VideoURL: "/streams/cam1.m3u8",
		Remarks:  "gate & fence",
		Priority: 2,
		Status:   "online",
	}
	return ev
}

func TestEncode(t *testing.T) {
	t.Run("entity layout", func(t *testing.T) {
		got := EncodeString(cameraEvent())
		want := `<?xml version="1.0" encoding="UTF-8"?>` +
			`<event version="2.0" uid="camera-cam1" type="b-m-p-s-p-loc" how="h-g-i-g-o"` +
			` time="2024-03-09T14:30:05.123Z" start="2024-03-09T14:30:05.123Z" stale="2024-03-09T14:35:05.123Z">` +
			`<point lat="25.0338" lon="121.5646" hae="12.5" ce="10.0" le="10.0"/>` +
			`<detail><contact callsign="North Gate"/><__video url="/streams/cam1.m3u8"/>` +
			`<remarks>gate &amp; fence</remarks><priority>2</priority><status>online</status></detail>` +
			`</event>`
		assert.Equal(t, want, got)
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Encode(cameraEvent()), Encode(cameraEvent()))
	})

	t.Run("video omitted without url", func(t *testing.T) {
		ev := cameraEvent()
		ev.Detail.VideoURL = ""
		got := EncodeString(ev)
		assert.NotContains(t, got, "__video")
		assert.Contains(t, got, `<contact callsign="North Gate"/><remarks>`)
	})

	t.Run("attribute values are escaped", func(t *testing.T) {
		ev := cameraEvent()
		ev.Detail.Callsign = `Alpha "1" <x>`
		got := EncodeString(ev)
		assert.Contains(t, got, `callsign="Alpha &#34;1&#34; &lt;x&gt;"`)
	})

	t.Run("heartbeat ping", func(t *testing.T) {
		got := EncodeString(NewPing("fusion-1", fixedNow))
		assert.Contains(t, got, `type="t-x-c-t"`)
		assert.Contains(t, got, `time="2024-03-09T14:30:05.123Z" start="2024-03-09T14:30:05.123Z" stale="2024-03-09T14:30:05.123Z"`)
		assert.Contains(t, got, `<point lat="0.0" lon="0.0" hae="0.0" ce="0.0" le="0.0"/>`)
		assert.Contains(t, got, `<detail/>`)
	})
}

func TestEventInvariants(t *testing.T) {
	ev := NewEntity("x", TypeSensorPoint, fixedNow)
	require.NoError(t, ev.Validate())
	assert.Equal(t, 300*time.Second, ev.TTL())

	ping := NewPing("x", fixedNow)
	require.NoError(t, ping.Validate())
	assert.Zero(t, ping.TTL())
	assert.Equal(t, Point{}, ping.Point)

	ev.Stale = ev.Time.Add(-time.Second)
	assert.ErrorIs(t, ev.Validate(), ErrStaleBeforeTime)
}

func TestRoundTrip(t *testing.T) {
	points := []Point{
		{Lat: 25.0338, Lon: 121.5646},
		{Lat: -33.868820, Lon: 151.209296},
		{Lat: 0, Lon: 0},
		{Lat: 89.999999, Lon: -179.999999},
		{Lat: 1.0 / 3.0, Lon: 2.0 / 3.0},
	}
	for _, p := range points {
		ev := cameraEvent()
		ev.Point.Lat, ev.Point.Lon = p.Lat, p.Lon

		got, err := Decode(Encode(ev))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, ev.UID, got.UID)
		assert.InDelta(t, ev.Point.Lat, got.Point.Lat, 1e-9)
		assert.InDelta(t, ev.Point.Lon, got.Point.Lon, 1e-9)
	}

	ev := cameraEvent()
	got, err := Decode(Encode(ev))
	require.NoError(t, err)
	assert.Equal(t, ev.Type, got.Type)
	assert.Equal(t, ev.How, got.How)
	assert.True(t, ev.Time.Equal(got.Time))
	assert.True(t, ev.Stale.Equal(got.Stale))
	assert.Equal(t, ev.Detail.Callsign, got.Detail.Callsign)
	assert.Equal(t, ev.Detail.VideoURL, got.Detail.VideoURL)
	assert.Equal(t, ev.Detail.Remarks, got.Detail.Remarks)
	assert.Equal(t, 2, got.Detail.Priority)
	assert.Equal(t, "online", got.Detail.Status)
}

func TestDecode(t *testing.T) {
	t.Run("chunk without marker is ignored", func(t *testing.T) {
		for _, chunk := range []string{"", "\n", "ping", "<?xml version=\"1.0\"?>", "<eve"} {
			ev, err := Decode([]byte(chunk))
			assert.Nil(t, ev)
			assert.NoError(t, err)
		}
	})

	t.Run("partial frame is a parse error", func(t *testing.T) {
		full := EncodeString(cameraEvent())
		ev, err := Decode([]byte(full[:len(full)/2]))
		assert.Nil(t, ev)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrParse))

		var pe *ParseError
		assert.True(t, errors.As(err, &pe))
	})

	t.Run("bad coordinate", func(t *testing.T) {
		doc := `<event version="2.0" uid="u1" type="a-f-G" time="2024-03-09T14:30:05Z" start="2024-03-09T14:30:05Z" stale="2024-03-09T14:35:05Z"><point lat="north" lon="1"/></event>`
		_, err := Decode([]byte(doc))
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "point.lat", pe.Field)
	})

	t.Run("missing uid", func(t *testing.T) {
		_, err := Decode([]byte(`<event version="2.0" type="a-f-G"><point lat="1" lon="1"/></event>`))
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("leading bytes before marker", func(t *testing.T) {
		chunk := append([]byte("\x00\r\n"), Encode(cameraEvent())...)
		ev, err := Decode(chunk)
		require.NoError(t, err)
		assert.Equal(t, "camera-cam1", ev.UID)
	})

	t.Run("tak client detail", func(t *testing.T) {
		doc := `<?xml version="1.0" standalone="yes"?>
<event version="2.0" uid="ANDROID-589520ccfcd20f01" type="a-f-G-U-C" how="h-e"
  time="2024-03-09T14:30:05.51Z" start="2024-03-09T14:30:05.51Z" stale="2024-03-09T14:36:20.51Z">
  <point lat="25.03" lon="121.56" hae="9999999.0" ce="9999999.0" le="9999999.0"/>
  <detail>
    <takv os="29" version="4.8.1" device="SAMSUNG SM-G975U1" platform="ATAK-CIV"/>
    <contact endpoint="*:-1:stcp" callsign="BRAVO-6"/>
    <uid Droid="BRAVO-6"/>
    <__group role="Team Member" name="Cyan"/>
    <status battery="17"/>
    <track course="90.5" speed="1.2"/>
  </detail>
</event>`
		ev, err := Decode([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "ANDROID-589520ccfcd20f01", ev.UID)
		assert.Equal(t, "BRAVO-6", ev.Detail.Callsign)
		assert.Equal(t, "Cyan", ev.Detail.Group)
		assert.Equal(t, "Team Member", ev.Detail.Role)
		require.NotNil(t, ev.Detail.Battery)
		assert.Equal(t, 17, *ev.Detail.Battery)
		assert.Empty(t, ev.Detail.Status)
		assert.InDelta(t, 90.5, ev.Detail.Course, 1e-9)
		assert.InDelta(t, 1.2, ev.Detail.Speed, 1e-9)
		assert.Equal(t, 510*time.Millisecond, time.Duration(ev.Time.Nanosecond()))
	})

	t.Run("non numeric priority is dropped", func(t *testing.T) {
		doc := strings.Replace(EncodeString(cameraEvent()), "<priority>2</priority>", "<priority>high</priority>", 1)
		ev, err := Decode([]byte(doc))
		require.NoError(t, err)
		assert.Zero(t, ev.Detail.Priority)
	})
}
