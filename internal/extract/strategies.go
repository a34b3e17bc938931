package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"upgradewatch/internal/flights"

	"github.com/PuerkitoBio/goquery"
)

// Field is a segment attribute resolved through a strategy chain.
type Field int

const (
	FieldFlightNumber Field = iota
	FieldDate
	FieldOrigin
	FieldDestination
	FieldDeparture
	FieldArrival
)

// Strategy looks up a single field, ok is false when the strategy has no
// opinion and the next one in the chain should be tried.
type Strategy struct {
	Name   string
	Lookup func(field Field) (value string, ok bool)
}

// Resolve returns the first value produced by chain, in order.
func Resolve(chain []Strategy, field Field) (value string, source string, ok bool) {
	for _, s := range chain {
		v, ok := s.Lookup(field)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		return v, s.Name, true
	}
	return "", "", false
}

var attributeNames = map[Field][]string{
	FieldFlightNumber: {"data-flight-number", "data-flight"},
	FieldDate:         {"data-flight-date", "data-date"},
	FieldOrigin:       {"data-origin", "data-departure-airport"},
	FieldDestination:  {"data-destination", "data-arrival-airport"},
	FieldDeparture:    {"data-departure-time", "data-departure"},
	FieldArrival:      {"data-arrival-time", "data-arrival"},
}

// attributeStrategy reads fields from the segment block's own attributes,
// then from the first descendant carrying the attribute.
func attributeStrategy(block *goquery.Selection) Strategy {
	return Strategy{
		Name: "attributes",
		Lookup: func(field Field) (string, bool) {
			for _, name := range attributeNames[field] {
				if v, ok := block.Attr(name); ok && strings.TrimSpace(v) != "" {
					return v, true
				}
				if v, ok := block.Find("[" + name + "]").First().Attr(name); ok && strings.TrimSpace(v) != "" {
					return v, true
				}
			}
			return "", false
		},
	}
}

type jsonLDAirport struct {
	IataCode string `json:"iataCode"`
}

// jsonLDFlight is the subset of a schema.org Flight the page embeds.
type jsonLDFlight struct {
	Type             any               `json:"@type"`
	FlightNumber     string            `json:"flightNumber"`
	DepartureAirport jsonLDAirport     `json:"departureAirport"`
	ArrivalAirport   jsonLDAirport     `json:"arrivalAirport"`
	DepartureTime    string            `json:"departureTime"`
	ArrivalTime      string            `json:"arrivalTime"`
	Graph            []json.RawMessage `json:"@graph"`
}

func (f jsonLDFlight) isFlight() bool {
	switch t := f.Type.(type) {
	case string:
		return t == "Flight"
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == "Flight" {
				return true
			}
		}
	}
	return false
}

func collectFlights(raw json.RawMessage, out *[]jsonLDFlight) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) != nil {
			return
		}
		for _, item := range items {
			collectFlights(item, out)
		}
		return
	}

	var flight jsonLDFlight
	if json.Unmarshal(raw, &flight) != nil {
		return
	}
	if flight.isFlight() {
		*out = append(*out, flight)
	}
	for _, item := range flight.Graph {
		collectFlights(item, out)
	}
}

// jsonLDFlights returns every schema.org Flight embedded in doc, in
// document order. Malformed blocks are skipped.
func jsonLDFlights(doc *goquery.Selection) []jsonLDFlight {
	var out []jsonLDFlight
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		collectFlights(json.RawMessage(s.Text()), &out)
	})
	return out
}

// jsonLDStrategy reads fields from the structured data of one flight.
func jsonLDStrategy(flight *jsonLDFlight) Strategy {
	return Strategy{
		Name: "json-ld",
		Lookup: func(field Field) (string, bool) {
			if flight == nil {
				return "", false
			}
			switch field {
			case FieldFlightNumber:
				return flight.FlightNumber, flight.FlightNumber != ""
			case FieldDate:
				date := dateOf(flight.DepartureTime)
				return date, date != ""
			case FieldOrigin:
				return flight.DepartureAirport.IataCode, flight.DepartureAirport.IataCode != ""
			case FieldDestination:
				return flight.ArrivalAirport.IataCode, flight.ArrivalAirport.IataCode != ""
			case FieldDeparture:
				return flight.DepartureTime, flight.DepartureTime != ""
			case FieldArrival:
				return flight.ArrivalTime, flight.ArrivalTime != ""
			}
			return "", false
		},
	}
}

var metaNames = map[Field]string{
	FieldFlightNumber: "flight:number",
	FieldDate:         "flight:date",
	FieldOrigin:       "flight:origin",
	FieldDestination:  "flight:destination",
	FieldDeparture:    "flight:departure",
	FieldArrival:      "flight:arrival",
}

// metaStrategy reads page level <meta name|property="flight:*"> tags.
func metaStrategy(doc *goquery.Selection) Strategy {
	return Strategy{
		Name: "meta",
		Lookup: func(field Field) (string, bool) {
			name := metaNames[field]
			sel := doc.Find(`meta[name="` + name + `"], meta[property="` + name + `"]`).First()
			return sel.Attr("content")
		},
	}
}

var (
	datePrefix    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
	localDateTime = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[T ](\d{1,2}):(\d{2})`)
	clockOnly     = regexp.MustCompile(`^(\d{1,2}):(\d{2})`)
	airportCode   = regexp.MustCompile(`^[A-Z]{3}$`)
)

func dateOf(value string) string {
	match := datePrefix.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return ""
	}
	if _, err := flights.ParseDate(match[1]); err != nil {
		return ""
	}
	return match[1]
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// normalizeLocalTime keeps the airport-local wall clock of value as
// YYYY-MM-DDTHH:MM, any offset is dropped. A bare HH:MM is placed on date.
func normalizeLocalTime(value, date string) string {
	value = strings.TrimSpace(value)
	if m := localDateTime.FindStringSubmatch(value); m != nil {
		return m[1] + "T" + pad2(m[2]) + ":" + m[3]
	}
	if m := clockOnly.FindStringSubmatch(value); m != nil && date != "" {
		return date + "T" + pad2(m[1]) + ":" + m[2]
	}
	return ""
}

func normalizeAirport(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if !airportCode.MatchString(value) {
		return ""
	}
	return value
}
