// Package flights holds the records shared by every stage of the tracker.
package flights

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// DateLayout is the civil date format used for flight dates.
const DateLayout = "2006-01-02"

// LocalTimeLayout is the airport-local wall clock format used for departure
// and arrival times.
const LocalTimeLayout = "2006-01-02T15:04"

// FlightSegment is one flown leg, identified by (FlightNumber, Date, SegmentIndex).
type FlightSegment struct {
	FlightNumber  string
	Date          string
	Origin        string
	Destination   string
	DepartureTime string
	ArrivalTime   string
	SegmentIndex  int
}

func (s FlightSegment) Key() FlightKey {
	return FlightKey{FlightNumber: s.FlightNumber, Date: s.Date}
}

// WaitlistSnapshot is an immutable capture of the upgrade list of one segment.
// Passengers is ordered, index 0 is first in line.
type WaitlistSnapshot struct {
	FlightID   int64
	Passengers []string
	Capacity   *int
	Available  *int
	CheckedIn  *int
	CapturedAt time.Time
}

// Position returns the 1-based rank of passenger, or nil if they are not listed.
func (s WaitlistSnapshot) Position(passenger string) *int {
	passenger = NormalizePassenger(passenger)
	if passenger == "" {
		return nil
	}
	idx := slices.Index(s.Passengers, passenger)
	if idx < 0 {
		return nil
	}
	pos := idx + 1
	return &pos
}

// StoredSegment is a persisted segment with its most recent snapshot, if any.
type StoredSegment struct {
	ID       int64
	Segment  FlightSegment
	Snapshot *WaitlistSnapshot
}

// CapturedSegment is a segment and the snapshot extracted for it in one
// fetch, not yet persisted.
type CapturedSegment struct {
	Segment  FlightSegment
	Snapshot WaitlistSnapshot
}

// Tier is a passenger status derived from time remaining before departure.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// PassengerStatus is the latest tier assigned to a passenger on a flight.
//
// Position and NewlyAdded are recorded alongside the tier but do not
// influence it.
type PassengerStatus struct {
	Passenger    string
	FlightNumber string
	Date         string
	Tier         Tier
	Position     *int
	NewlyAdded   bool
	UpdatedAt    time.Time
}

// FlightKey scopes rate limiting and caching.
type FlightKey struct {
	FlightNumber string
	Date         string
}

func (k FlightKey) String() string {
	return fmt.Sprintf("%s|%s", k.FlightNumber, k.Date)
}

var passengerPattern = regexp.MustCompile(`^[A-Z]{2,3}/[A-Z]$`)

// NormalizePassenger uppercases and trims a passenger identifier.
func NormalizePassenger(passenger string) string {
	return strings.ToUpper(strings.TrimSpace(passenger))
}

// ValidPassenger reports whether an already normalized identifier has the
// airline name-code shape, 2-3 letters, a slash and an initial.
func ValidPassenger(passenger string) bool {
	return passengerPattern.MatchString(passenger)
}

// NormalizeFlightNumber strips whitespace and uppercases carrier prefixes.
func NormalizeFlightNumber(flightNumber string) string {
	return strings.ToUpper(strings.Join(strings.Fields(flightNumber), ""))
}

// ParseDate validates a civil date string.
func ParseDate(date string) (time.Time, error) {
	return time.Parse(DateLayout, date)
}

// IntPtr is a convenience for optional counters.
func IntPtr(v int) *int {
	return &v
}
