package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"upgradewatch/internal/components/assert"
	"upgradewatch/internal/components/chrono"
	"upgradewatch/internal/components/telemetry"
	"upgradewatch/internal/flights"
)

const (
	report_db_query  = "db.query"
	report_db_decode = "db.decode-passengers"
)

// Store persists segments, snapshots and passenger statuses.
type Store struct {
	db     *Queries
	makeTx MakeTx
	time   chrono.TimeAPI
	tel    telemetry.API
}

func NewStore(sqldb *sql.DB, time chrono.TimeAPI, tel telemetry.API) Store {
	assert.NotNil(sqldb)
	assert.NotNil(time)
	assert.NotNil(tel)

	return Store{
		db:     New(sqldb),
		makeTx: NewMakeTx(sqldb),
		time:   time,
		tel:    telemetry.NewScopedAPI("db", tel),
	}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	out := int(v.Int64)
	return &out
}

func (s Store) segmentFromRow(row FlightSegment) flights.FlightSegment {
	return flights.FlightSegment{
		FlightNumber:  row.FlightNumber,
		Date:          row.FlightDate,
		Origin:        row.Origin,
		Destination:   row.Destination,
		DepartureTime: row.DepartureTime,
		ArrivalTime:   row.ArrivalTime,
		SegmentIndex:  int(row.SegmentIndex),
	}
}

func (s Store) snapshotFromRow(row WaitlistSnapshot) (flights.WaitlistSnapshot, error) {
	var passengers []string
	err := json.Unmarshal([]byte(row.Passengers), &passengers)
	if err != nil {
		s.tel.ReportBroken(report_db_decode, err, row.ID)
		return flights.WaitlistSnapshot{}, fmt.Errorf("decode passengers of snapshot %d: %w", row.ID, err)
	}
	if passengers == nil {
		passengers = []string{}
	}
	return flights.WaitlistSnapshot{
		FlightID:   row.FlightID,
		Passengers: passengers,
		Capacity:   fromNullInt(row.Capacity),
		Available:  fromNullInt(row.Available),
		CheckedIn:  fromNullInt(row.CheckedIn),
		CapturedAt: time.UnixMilli(row.CapturedAt).In(s.time.Location()),
	}, nil
}

// UpsertFlightSegment writes segment, the latest write wins per
// (flight number, date, segment index). It returns the segment's id.
func (s Store) UpsertFlightSegment(ctx context.Context, segment flights.FlightSegment) (int64, error) {
	return s.upsertSegment(ctx, s.db, segment)
}

// AppendWaitlistSnapshot appends snapshot to the history of flightID.
func (s Store) AppendWaitlistSnapshot(ctx context.Context, flightID int64, snapshot flights.WaitlistSnapshot) error {
	return s.appendSnapshot(ctx, s.db, flightID, snapshot)
}

// PersistFetch upserts every captured segment and appends its snapshot in a
// single transaction, either all of them are stored or none. It returns the
// segment ids in the order of captured.
func (s Store) PersistFetch(ctx context.Context, captured []flights.CapturedSegment) ([]int64, error) {
	tx, discard, commit, err := s.makeTx()
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return nil, err
	}
	defer discard()

	ids := make([]int64, len(captured))
	for i, c := range captured {
		id, err := s.upsertSegment(ctx, tx, c.Segment)
		if err != nil {
			return nil, err
		}
		err = s.appendSnapshot(ctx, tx, id, c.Snapshot)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	err = commit()
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("commit: %w", err), "PersistFetch")
		return nil, err
	}
	return ids, nil
}

func (s Store) upsertSegment(ctx context.Context, qry *Queries, segment flights.FlightSegment) (int64, error) {
	param := UpsertFlightSegmentParams{
		FlightNumber:  segment.FlightNumber,
		FlightDate:    segment.Date,
		SegmentIndex:  int64(segment.SegmentIndex),
		Origin:        segment.Origin,
		Destination:   segment.Destination,
		DepartureTime: segment.DepartureTime,
		ArrivalTime:   segment.ArrivalTime,
		UpdatedAt:     s.time.Now().UnixMilli(),
	}
	id, err := qry.UpsertFlightSegment(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "UpsertFlightSegment", param)
		return 0, err
	}
	return id, nil
}

func (s Store) appendSnapshot(ctx context.Context, qry *Queries, flightID int64, snapshot flights.WaitlistSnapshot) error {
	passengers := snapshot.Passengers
	if passengers == nil {
		passengers = []string{}
	}
	encoded, err := json.Marshal(passengers)
	if err != nil {
		return err
	}

	param := CreateWaitlistSnapshotParams{
		FlightID:   flightID,
		Passengers: string(encoded),
		Capacity:   nullInt(snapshot.Capacity),
		Available:  nullInt(snapshot.Available),
		CheckedIn:  nullInt(snapshot.CheckedIn),
		CapturedAt: snapshot.CapturedAt.UnixMilli(),
	}
	err = qry.CreateWaitlistSnapshot(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "CreateWaitlistSnapshot", param)
		return err
	}
	return nil
}

// LatestSnapshotsFor returns every known segment of a flight in segment order,
// each with its most recent snapshot (nil when none was ever captured).
func (s Store) LatestSnapshotsFor(ctx context.Context, flightNumber, date string) ([]flights.StoredSegment, error) {
	tx, discard, commit, err := s.makeTx()
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return nil, err
	}
	defer discard()

	param := GetFlightSegmentsParams{FlightNumber: flightNumber, FlightDate: date}
	rows, err := tx.GetFlightSegments(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetFlightSegments", param)
		return nil, err
	}

	out := make([]flights.StoredSegment, 0, len(rows))
	for _, row := range rows {
		stored := flights.StoredSegment{
			ID:      row.ID,
			Segment: s.segmentFromRow(row),
		}

		snapRow, err := tx.GetLatestWaitlistSnapshot(ctx, row.ID)
		if errors.Is(err, sql.ErrNoRows) {
			out = append(out, stored)
			continue
		}
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "GetLatestWaitlistSnapshot", row.ID)
			return nil, err
		}
		snapshot, err := s.snapshotFromRow(snapRow)
		if err != nil {
			return nil, err
		}
		stored.Snapshot = &snapshot
		out = append(out, stored)
	}

	err = commit()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PreviousSnapshotBefore returns the latest snapshot of flightID captured
// strictly before before, or nil.
func (s Store) PreviousSnapshotBefore(ctx context.Context, flightID int64, before time.Time) (*flights.WaitlistSnapshot, error) {
	param := GetWaitlistSnapshotBeforeParams{
		FlightID:   flightID,
		CapturedAt: before.UnixMilli(),
	}
	row, err := s.db.GetWaitlistSnapshotBefore(ctx, param)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetWaitlistSnapshotBefore", param)
		return nil, err
	}
	snapshot, err := s.snapshotFromRow(row)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// UpsertPassengerStatus keeps one status per (passenger, flight, date).
func (s Store) UpsertPassengerStatus(ctx context.Context, status flights.PassengerStatus) error {
	param := UpsertPassengerStatusParams{
		Passenger:    status.Passenger,
		FlightNumber: status.FlightNumber,
		FlightDate:   status.Date,
		Tier:         string(status.Tier),
		Position:     nullInt(status.Position),
		NewlyAdded:   status.NewlyAdded,
		UpdatedAt:    status.UpdatedAt.UnixMilli(),
	}
	err := s.db.UpsertPassengerStatus(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "UpsertPassengerStatus", param)
		return err
	}
	return nil
}

func (s Store) PassengerStatuses(ctx context.Context, flightNumber, date string) ([]flights.PassengerStatus, error) {
	param := GetPassengerStatusesParams{FlightNumber: flightNumber, FlightDate: date}
	rows, err := s.db.GetPassengerStatuses(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetPassengerStatuses", param)
		return nil, err
	}

	out := make([]flights.PassengerStatus, len(rows))
	for i, row := range rows {
		out[i] = flights.PassengerStatus{
			Passenger:    row.Passenger,
			FlightNumber: row.FlightNumber,
			Date:         row.FlightDate,
			Tier:         flights.Tier(row.Tier),
			Position:     fromNullInt(row.Position),
			NewlyAdded:   row.NewlyAdded,
			UpdatedAt:    time.UnixMilli(row.UpdatedAt).In(s.time.Location()),
		}
	}
	return out, nil
}

// AllFlightsBetween lists distinct flights with a date in [from, to], both
// given as YYYY-MM-DD.
func (s Store) AllFlightsBetween(ctx context.Context, from, to string) ([]flights.FlightKey, error) {
	param := GetFlightsBetweenParams{From: from, To: to}
	rows, err := s.db.GetFlightsBetween(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetFlightsBetween", param)
		return nil, err
	}

	out := make([]flights.FlightKey, len(rows))
	for i, row := range rows {
		out[i] = flights.FlightKey{
			FlightNumber: row.FlightNumber,
			Date:         row.FlightDate,
		}
	}
	return out, nil
}
