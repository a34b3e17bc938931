package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"upgradewatch/internal/components/testutil"
	"upgradewatch/internal/flights"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) string {
	content, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(content)
}

func TestSegmentsFromAttributes(t *testing.T) {
	e := NewExtractor(testutil.NewTelemetry(t))

	segments, err := e.Segments(context.Background(), fixture(t, "two_segments.html"))
	require.NoError(t, err)

	expected := []flights.FlightSegment{
		{
			FlightNumber:  "100",
			Date:          "2026-10-17",
			Origin:        "SEA",
			Destination:   "ANC",
			DepartureTime: "2026-10-17T08:05",
			ArrivalTime:   "2026-10-17T10:40",
			SegmentIndex:  0,
		},
		{
			FlightNumber:  "100",
			Date:          "2026-10-17",
			Origin:        "ANC",
			Destination:   "FAI",
			DepartureTime: "2026-10-17T12:15",
			SegmentIndex:  1,
		},
	}
	diff := cmp.Diff(expected, segments)
	require.Empty(t, diff)
}

func TestSegmentsFromStructuredData(t *testing.T) {
	e := NewExtractor(testutil.NewTelemetry(t))

	segments, err := e.Segments(context.Background(), fixture(t, "structured.html"))
	require.NoError(t, err)
	require.Equal(t, []flights.FlightSegment{{
		FlightNumber:  "AS2",
		Date:          "2026-10-18",
		Origin:        "JFK",
		Destination:   "SEA",
		DepartureTime: "2026-10-18T17:30",
		ArrivalTime:   "2026-10-18T20:55",
		SegmentIndex:  0,
	}}, segments)
}

func TestSegmentsFromMeta(t *testing.T) {
	e := NewExtractor(testutil.NewTelemetry(t))

	segments, err := e.Segments(context.Background(), fixture(t, "meta.html"))
	require.NoError(t, err)
	require.Equal(t, []flights.FlightSegment{{
		FlightNumber:  "318",
		Date:          "2026-10-19",
		Origin:        "LAX",
		Destination:   "HNL",
		DepartureTime: "2026-10-19T07:45",
		SegmentIndex:  0,
	}}, segments)
}

func TestUnresolvedSegmentsAreDropped(t *testing.T) {
	tel := testutil.NewTelemetry(t)
	e := NewExtractor(tel)

	segments, err := e.Segments(context.Background(), fixture(t, "unresolved.html"))
	require.NoError(t, err)
	require.Empty(t, segments)
	require.Len(t, tel.Events("warning"), 2)
}

func TestSegmentsOfChallengePage(t *testing.T) {
	e := NewExtractor(testutil.NewTelemetry(t))

	segments, err := e.Segments(context.Background(), `<html><head><title>Just a moment...</title></head><body></body></html>`)
	require.NoError(t, err)
	require.Empty(t, segments)
}

func TestWaitlist(t *testing.T) {
	e := NewExtractor(testutil.NewTelemetry(t))
	ctx := context.Background()
	document := fixture(t, "two_segments.html")

	snapshot, ok, err := e.Waitlist(ctx, document, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"ABC/J", "XYZ/K", "QR/T"}, snapshot.Passengers)
	require.Equal(t, flights.IntPtr(4), snapshot.Capacity)
	require.Equal(t, flights.IntPtr(2), snapshot.Available)
	require.Equal(t, flights.IntPtr(3), snapshot.CheckedIn)
	require.Equal(t, 2, *snapshot.Position("XYZ/K"))

	snapshot, ok, err = e.Waitlist(ctx, document, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, snapshot.Capacity)
	require.Nil(t, snapshot.Available)
	require.Nil(t, snapshot.CheckedIn)
	require.NotNil(t, snapshot.Passengers)
	require.Empty(t, snapshot.Passengers)

	_, ok, err = e.Waitlist(ctx, document, 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWaitlistFuzzyLabels(t *testing.T) {
	e := NewExtractor(testutil.NewTelemetry(t))

	snapshot, ok, err := e.Waitlist(context.Background(), fixture(t, "structured.html"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"MNO/P", "ST/U"}, snapshot.Passengers)
	require.Equal(t, flights.IntPtr(8), snapshot.Capacity)
	require.Nil(t, snapshot.Available)
	require.Equal(t, flights.IntPtr(5), snapshot.CheckedIn)
}

func TestWaitlistDetailPanel(t *testing.T) {
	e := NewExtractor(testutil.NewTelemetry(t))

	document := `<html><body>
		<div data-segment-index="3" data-flight-number="55" data-flight-date="2026-10-20"></div>
		<div data-segment-detail="3">
			<h4>Upgrade requests</h4>
			<p><label>Available:</label> <b>1</b></p>
			<table><tr><td>1</td><td>DOE/J</td></tr></table>
		</div>
	</body></html>`

	snapshot, ok, err := e.Waitlist(context.Background(), document, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"DOE/J"}, snapshot.Passengers)
	require.Equal(t, flights.IntPtr(1), snapshot.Available)
	require.Nil(t, snapshot.Capacity)
}

func TestWaitlistInlineCounters(t *testing.T) {
	e := NewExtractor(testutil.NewTelemetry(t))

	snapshot, ok, err := e.Waitlist(context.Background(), fixture(t, "inline_counters.html"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"ABC/J", "XYZ/K"}, snapshot.Passengers)
	require.Equal(t, flights.IntPtr(4), snapshot.Capacity)
	require.Equal(t, flights.IntPtr(2), snapshot.Available)
	require.Equal(t, flights.IntPtr(3), snapshot.CheckedIn)
}

func TestMatchLabel(t *testing.T) {
	cases := []struct {
		label   string
		counter counter
		ok      bool
	}{
		{"Capacity", counterCapacity, true},
		{"First class capacity:", counterCapacity, true},
		{"Seats available", counterAvailable, true},
		{"Checked in", counterCheckedIn, true},
		{"CHECKED-IN", counterCheckedIn, true},
		{"Capcity", counterCapacity, true},
		{"Availble", counterAvailable, true},
		{"Status", 0, false},
		{"", 0, false},
	}
	for _, test := range cases {
		c, ok := matchLabel(test.label)
		require.Equal(t, test.ok, ok, test.label)
		if test.ok {
			require.Equal(t, test.counter, c, test.label)
		}
	}
}

func TestResolveOrder(t *testing.T) {
	fixed := func(name string, values map[Field]string) Strategy {
		return Strategy{Name: name, Lookup: func(field Field) (string, bool) {
			v, ok := values[field]
			return v, ok
		}}
	}
	chain := []Strategy{
		fixed("first", map[Field]string{FieldOrigin: "  "}),
		fixed("second", map[Field]string{FieldOrigin: "SEA", FieldDate: "2026-10-16"}),
		fixed("third", map[Field]string{FieldOrigin: "PDX", FieldFlightNumber: "7"}),
	}

	value, source, ok := Resolve(chain, FieldOrigin)
	require.True(t, ok)
	require.Equal(t, "SEA", value)
	require.Equal(t, "second", source)

	value, source, ok = Resolve(chain, FieldFlightNumber)
	require.True(t, ok)
	require.Equal(t, "7", value)
	require.Equal(t, "third", source)

	_, _, ok = Resolve(chain, FieldArrival)
	require.False(t, ok)
}

func TestNormalizeLocalTime(t *testing.T) {
	require.Equal(t, "2026-10-17T08:05", normalizeLocalTime("2026-10-17T08:05:00-07:00", ""))
	require.Equal(t, "2026-10-17T07:45", normalizeLocalTime("2026-10-17 7:45", ""))
	require.Equal(t, "2026-10-17T09:10", normalizeLocalTime("9:10 AM", "2026-10-17"))
	require.Equal(t, "", normalizeLocalTime("9:10", ""))
	require.Equal(t, "", normalizeLocalTime("tbd", "2026-10-17"))
}
