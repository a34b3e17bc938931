package flights

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPosition(t *testing.T) {
	snapshot := WaitlistSnapshot{Passengers: []string{"ABC/J", "XYZ/K"}}

	require.Equal(t, 1, *snapshot.Position("ABC/J"))
	require.Equal(t, 2, *snapshot.Position(" xyz/k "))
	require.Nil(t, snapshot.Position("QQ/Q"))
	require.Nil(t, snapshot.Position(""))
	require.Nil(t, WaitlistSnapshot{}.Position("ABC/J"))
}

func TestValidPassenger(t *testing.T) {
	cases := []struct {
		input string
		valid bool
	}{
		{"ABC/J", true},
		{"AB/J", true},
		{"A/J", false},
		{"ABCD/J", false},
		{"ABC/JK", false},
		{"abc/j", false},
		{"ABC J", false},
	}
	for _, test := range cases {
		require.Equal(t, test.valid, ValidPassenger(test.input), test.input)
	}
}

func TestFlightKey(t *testing.T) {
	segment := FlightSegment{FlightNumber: "100", Date: "2026-10-16", SegmentIndex: 1}
	require.Equal(t, "100|2026-10-16", segment.Key().String())
	require.Equal(t, "AS100", NormalizeFlightNumber(" as 100 "))
}
