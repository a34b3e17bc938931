package waitlist

import (
	"fmt"
	"strings"
	"time"

	"upgradewatch/internal/flights"
)

const (
	HighTierHours   = 72
	MediumTierHours = 48
)

// Classify maps hours remaining before departure to a tier, boundaries
// belong to the higher tier.
//
// Queue position and whether a passenger is newly added are recorded on
// PassengerStatus but are not inputs here.
func Classify(hoursBeforeDeparture float64) flights.Tier {
	switch {
	case hoursBeforeDeparture >= HighTierHours:
		return flights.TierHigh
	case hoursBeforeDeparture >= MediumTierHours:
		return flights.TierMedium
	default:
		return flights.TierLow
	}
}

// DefaultUTCOffset is used for airports missing from the table, pacific
// standard time.
const DefaultUTCOffset = -8 * time.Hour

// utcOffsets is a static table of standard time offsets by IATA code.
var utcOffsets = map[string]time.Duration{
	// pacific
	"SEA": -8 * time.Hour,
	"PDX": -8 * time.Hour,
	"GEG": -8 * time.Hour,
	"SFO": -8 * time.Hour,
	"SJC": -8 * time.Hour,
	"OAK": -8 * time.Hour,
	"SMF": -8 * time.Hour,
	"LAX": -8 * time.Hour,
	"SAN": -8 * time.Hour,
	"SNA": -8 * time.Hour,
	"BUR": -8 * time.Hour,
	"PSP": -8 * time.Hour,
	"LAS": -8 * time.Hour,
	"RNO": -8 * time.Hour,
	"YVR": -8 * time.Hour,
	// alaska
	"ANC": -9 * time.Hour,
	"FAI": -9 * time.Hour,
	"JNU": -9 * time.Hour,
	"KTN": -9 * time.Hour,
	"SIT": -9 * time.Hour,
	// hawaii
	"HNL": -10 * time.Hour,
	"OGG": -10 * time.Hour,
	"KOA": -10 * time.Hour,
	"LIH": -10 * time.Hour,
	// mountain
	"PHX": -7 * time.Hour,
	"TUS": -7 * time.Hour,
	"DEN": -7 * time.Hour,
	"SLC": -7 * time.Hour,
	"BOI": -7 * time.Hour,
	"ABQ": -7 * time.Hour,
	"SJD": -7 * time.Hour,
	// central
	"DFW": -6 * time.Hour,
	"IAH": -6 * time.Hour,
	"AUS": -6 * time.Hour,
	"ORD": -6 * time.Hour,
	"MSP": -6 * time.Hour,
	"STL": -6 * time.Hour,
	"MCI": -6 * time.Hour,
	"MSY": -6 * time.Hour,
	"MEX": -6 * time.Hour,
	"PVR": -6 * time.Hour,
	// eastern
	"JFK": -5 * time.Hour,
	"EWR": -5 * time.Hour,
	"BOS": -5 * time.Hour,
	"IAD": -5 * time.Hour,
	"DCA": -5 * time.Hour,
	"ATL": -5 * time.Hour,
	"MCO": -5 * time.Hour,
	"MIA": -5 * time.Hour,
	"FLL": -5 * time.Hour,
	"TPA": -5 * time.Hour,
	"CLT": -5 * time.Hour,
	"YYZ": -5 * time.Hour,
	"CUN": -5 * time.Hour,
	// international
	"LHR": 0,
	"KEF": 0,
	"NRT": 9 * time.Hour,
	"HND": 9 * time.Hour,
	"ICN": 9 * time.Hour,
}

// UTCOffset returns the offset of an airport, unknown airports use
// DefaultUTCOffset.
func UTCOffset(iata string) time.Duration {
	offset, ok := utcOffsets[strings.ToUpper(strings.TrimSpace(iata))]
	if !ok {
		return DefaultUTCOffset
	}
	return offset
}

// DepartureInstant places the segment's local departure wall clock in the
// departure airport's zone. Without a departure time, midnight of the
// flight date is used.
func DepartureInstant(segment flights.FlightSegment) (time.Time, error) {
	offset := UTCOffset(segment.Origin)
	zone := time.FixedZone(strings.ToUpper(segment.Origin), int(offset.Seconds()))

	if segment.DepartureTime != "" {
		t, err := time.ParseInLocation(flights.LocalTimeLayout, segment.DepartureTime, zone)
		if err == nil {
			return t, nil
		}
	}
	t, err := time.ParseInLocation(flights.DateLayout, segment.Date, zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("segment %s has no usable departure: %w", segment.Key(), err)
	}
	return t, nil
}

func HoursBeforeDeparture(segment flights.FlightSegment, now time.Time) (float64, error) {
	departure, err := DepartureInstant(segment)
	if err != nil {
		return 0, err
	}
	return departure.Sub(now).Hours(), nil
}
