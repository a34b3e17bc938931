// Package extract turns a rendered status page into flight segments and
// waitlist snapshots. Every field is optional except a segment's flight
// number and date, a missing field degrades to nil or empty.
package extract

import (
	"context"
	"strconv"
	"strings"

	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/flights"
	"upgradewatch/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("upgradewatch/internal/extract")

const (
	report_segments = "extract.segments"
	report_waitlist = "extract.waitlist"
)

const (
	blockSelector   = `[data-segment-index], .flight-status-segment`
	headingSelector = `h1, h2, h3, h4, h5, h6, .panel-heading, .panel-title, [role="heading"]`
	panelSelector   = `section, .panel, [role="region"]`

	// UpgradeHeading is the exact heading of the waitlist sub-panel.
	UpgradeHeading = "Upgrade requests"
)

type Extractor struct {
	tel telemetry.API
}

func NewExtractor(tel telemetry.API) Extractor {
	assert.NotNil(tel)
	return Extractor{tel: telemetry.NewScopedAPI("extract", tel)}
}

type block struct {
	index int
	sel   *goquery.Selection
}

// blocks returns the top level status blocks in document order, nested
// matches are folded into their outermost block.
func blocks(doc *goquery.Selection) []block {
	var out []block
	doc.Find(blockSelector).Each(func(i int, s *goquery.Selection) {
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		index := len(out)
		if raw, ok := s.Attr("data-segment-index"); ok {
			if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
				index = parsed
			}
		}
		out = append(out, block{index: index, sel: s})
	})
	return out
}

// Segments extracts one segment per status block. Blocks whose flight
// number or date cannot be resolved are dropped and reported.
func (e Extractor) Segments(ctx context.Context, document string) ([]flights.FlightSegment, error) {
	ctx, span := tracer.Start(ctx, "Segments")
	defer span.End()

	doc, err := htmlutil.Parse(ctx, document)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse document")
		e.tel.ReportBroken(report_segments, err)
		return nil, err
	}

	lds := jsonLDFlights(doc.Selection)
	meta := metaStrategy(doc.Selection)

	segments := []flights.FlightSegment{}
	for i, b := range blocks(doc.Selection) {
		var ld *jsonLDFlight
		if i < len(lds) {
			ld = &lds[i]
		}
		chain := []Strategy{attributeStrategy(b.sel), jsonLDStrategy(ld), meta}

		segment, ok := e.segment(chain, b.index)
		if !ok {
			continue
		}
		segments = append(segments, segment)
	}

	span.SetAttributes(attribute.Int("segments", len(segments)))
	return segments, nil
}

func (e Extractor) segment(chain []Strategy, index int) (flights.FlightSegment, bool) {
	number, _, _ := Resolve(chain, FieldFlightNumber)
	number = flights.NormalizeFlightNumber(number)
	rawDate, _, _ := Resolve(chain, FieldDate)
	date := dateOf(rawDate)
	if number == "" || date == "" {
		e.tel.ReportWarning(
			report_segments,
			"dropped segment without flight number or date",
			telemetry.KV{Key: "index", Value: index},
			telemetry.KV{Key: "flight_number", Value: number},
			telemetry.KV{Key: "date", Value: rawDate},
		)
		return flights.FlightSegment{}, false
	}

	origin, _, _ := Resolve(chain, FieldOrigin)
	destination, _, _ := Resolve(chain, FieldDestination)
	departure, _, _ := Resolve(chain, FieldDeparture)
	arrival, _, _ := Resolve(chain, FieldArrival)

	return flights.FlightSegment{
		FlightNumber:  number,
		Date:          date,
		Origin:        normalizeAirport(origin),
		Destination:   normalizeAirport(destination),
		DepartureTime: normalizeLocalTime(departure, date),
		ArrivalTime:   normalizeLocalTime(arrival, date),
		SegmentIndex:  index,
	}, true
}

// detailPanel finds the detail panel of the segment at index, falling back to
// the status block itself.
func detailPanel(doc *goquery.Selection, index int) (*goquery.Selection, bool) {
	detail := doc.Find(`[data-segment-detail="` + strconv.Itoa(index) + `"]`).First()
	if detail.Length() > 0 {
		return detail, true
	}
	for _, b := range blocks(doc) {
		if b.index == index {
			return b.sel, true
		}
	}
	return nil, false
}

// upgradePanel finds the sub-panel headed exactly by UpgradeHeading.
func upgradePanel(scope *goquery.Selection) (*goquery.Selection, bool) {
	var panel *goquery.Selection
	scope.Find(headingSelector).EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		if htmlutil.Text(heading) != UpgradeHeading {
			return true
		}
		container := heading.ParentsFiltered(panelSelector).First()
		if container.Length() == 0 || scope.FindSelection(container).Length() == 0 {
			container = heading.Parent()
		}
		panel = container
		return false
	})
	return panel, panel != nil
}

// passengers reads the second column of every data row, keeping values with
// the airline name-code shape in table order. Repeats keep their first rank.
func passengers(panel *goquery.Selection) []string {
	out := []string{}
	seen := map[string]bool{}
	panel.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 2 {
			return
		}
		value := flights.NormalizePassenger(htmlutil.Text(cells.Eq(1)))
		if !flights.ValidPassenger(value) || seen[value] {
			return
		}
		seen[value] = true
		out = append(out, value)
	})
	return out
}

// Waitlist extracts the upgrade list of the segment at segmentIndex. ok is
// false only when the segment is not on the page, a segment without an
// upgrade panel yields nil counters and no passengers.
func (e Extractor) Waitlist(ctx context.Context, document string, segmentIndex int) (flights.WaitlistSnapshot, bool, error) {
	ctx, span := tracer.Start(ctx, "Waitlist")
	defer span.End()
	span.SetAttributes(attribute.Int("segment_index", segmentIndex))

	doc, err := htmlutil.Parse(ctx, document)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse document")
		e.tel.ReportBroken(report_waitlist, err)
		return flights.WaitlistSnapshot{}, false, err
	}

	scope, ok := detailPanel(doc.Selection, segmentIndex)
	if !ok {
		return flights.WaitlistSnapshot{}, false, nil
	}

	snapshot := flights.WaitlistSnapshot{Passengers: []string{}}
	panel, ok := upgradePanel(scope)
	if !ok {
		e.tel.ReportDebug("no upgrade panel", telemetry.KV{Key: "index", Value: segmentIndex})
		return snapshot, true, nil
	}

	c := readCounters(panel)
	snapshot.Capacity = c.capacity
	snapshot.Available = c.available
	snapshot.CheckedIn = c.checkedIn
	snapshot.Passengers = passengers(panel)

	span.SetAttributes(attribute.Int("passengers", len(snapshot.Passengers)))
	return snapshot, true, nil
}
