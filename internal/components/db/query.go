package db

import (
	"context"
	"database/sql"
)

type FlightSegment struct {
	ID            int64
	FlightNumber  string
	FlightDate    string
	SegmentIndex  int64
	Origin        string
	Destination   string
	DepartureTime string
	ArrivalTime   string
	UpdatedAt     int64
}

type WaitlistSnapshot struct {
	ID         int64
	FlightID   int64
	Passengers string
	Capacity   sql.NullInt64
	Available  sql.NullInt64
	CheckedIn  sql.NullInt64
	CapturedAt int64
}

type PassengerStatus struct {
	Passenger    string
	FlightNumber string
	FlightDate   string
	Tier         string
	Position     sql.NullInt64
	NewlyAdded   bool
	UpdatedAt    int64
}

const upsertFlightSegment = `
insert into flight_segment (
    flight_number, flight_date, segment_index,
    origin, destination, departure_time, arrival_time, updated_at
) values (?, ?, ?, ?, ?, ?, ?, ?)
on conflict (flight_number, flight_date, segment_index) do update set
    origin = excluded.origin,
    destination = excluded.destination,
    departure_time = excluded.departure_time,
    arrival_time = excluded.arrival_time,
    updated_at = excluded.updated_at
returning id
`

type UpsertFlightSegmentParams struct {
	FlightNumber  string
	FlightDate    string
	SegmentIndex  int64
	Origin        string
	Destination   string
	DepartureTime string
	ArrivalTime   string
	UpdatedAt     int64
}

func (q *Queries) UpsertFlightSegment(ctx context.Context, arg UpsertFlightSegmentParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertFlightSegment,
		arg.FlightNumber,
		arg.FlightDate,
		arg.SegmentIndex,
		arg.Origin,
		arg.Destination,
		arg.DepartureTime,
		arg.ArrivalTime,
		arg.UpdatedAt,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const createWaitlistSnapshot = `
insert into waitlist_snapshot (
    flight_id, passengers, capacity, available, checked_in, captured_at
) values (?, ?, ?, ?, ?, ?)
`

type CreateWaitlistSnapshotParams struct {
	FlightID   int64
	Passengers string
	Capacity   sql.NullInt64
	Available  sql.NullInt64
	CheckedIn  sql.NullInt64
	CapturedAt int64
}

func (q *Queries) CreateWaitlistSnapshot(ctx context.Context, arg CreateWaitlistSnapshotParams) error {
	_, err := q.db.ExecContext(ctx, createWaitlistSnapshot,
		arg.FlightID,
		arg.Passengers,
		arg.Capacity,
		arg.Available,
		arg.CheckedIn,
		arg.CapturedAt,
	)
	return err
}

const getFlightSegments = `
select
    id, flight_number, flight_date, segment_index,
    origin, destination, departure_time, arrival_time, updated_at
from flight_segment
where flight_number = ? and flight_date = ?
order by segment_index
`

type GetFlightSegmentsParams struct {
	FlightNumber string
	FlightDate   string
}

func (q *Queries) GetFlightSegments(ctx context.Context, arg GetFlightSegmentsParams) ([]FlightSegment, error) {
	rows, err := q.db.QueryContext(ctx, getFlightSegments, arg.FlightNumber, arg.FlightDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FlightSegment
	for rows.Next() {
		var i FlightSegment
		if err := rows.Scan(
			&i.ID,
			&i.FlightNumber,
			&i.FlightDate,
			&i.SegmentIndex,
			&i.Origin,
			&i.Destination,
			&i.DepartureTime,
			&i.ArrivalTime,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getLatestWaitlistSnapshot = `
select id, flight_id, passengers, capacity, available, checked_in, captured_at
from waitlist_snapshot
where flight_id = ?
order by captured_at desc, id desc
limit 1
`

func (q *Queries) GetLatestWaitlistSnapshot(ctx context.Context, flightID int64) (WaitlistSnapshot, error) {
	row := q.db.QueryRowContext(ctx, getLatestWaitlistSnapshot, flightID)
	var i WaitlistSnapshot
	err := row.Scan(
		&i.ID,
		&i.FlightID,
		&i.Passengers,
		&i.Capacity,
		&i.Available,
		&i.CheckedIn,
		&i.CapturedAt,
	)
	return i, err
}

const getWaitlistSnapshotBefore = `
select id, flight_id, passengers, capacity, available, checked_in, captured_at
from waitlist_snapshot
where flight_id = ? and captured_at < ?
order by captured_at desc, id desc
limit 1
`

type GetWaitlistSnapshotBeforeParams struct {
	FlightID   int64
	CapturedAt int64
}

func (q *Queries) GetWaitlistSnapshotBefore(ctx context.Context, arg GetWaitlistSnapshotBeforeParams) (WaitlistSnapshot, error) {
	row := q.db.QueryRowContext(ctx, getWaitlistSnapshotBefore, arg.FlightID, arg.CapturedAt)
	var i WaitlistSnapshot
	err := row.Scan(
		&i.ID,
		&i.FlightID,
		&i.Passengers,
		&i.Capacity,
		&i.Available,
		&i.CheckedIn,
		&i.CapturedAt,
	)
	return i, err
}

const upsertPassengerStatus = `
insert into passenger_status (
    passenger, flight_number, flight_date, tier, position, newly_added, updated_at
) values (?, ?, ?, ?, ?, ?, ?)
on conflict (passenger, flight_number, flight_date) do update set
    tier = excluded.tier,
    position = excluded.position,
    newly_added = excluded.newly_added,
    updated_at = excluded.updated_at
`

type UpsertPassengerStatusParams struct {
	Passenger    string
	FlightNumber string
	FlightDate   string
	Tier         string
	Position     sql.NullInt64
	NewlyAdded   bool
	UpdatedAt    int64
}

func (q *Queries) UpsertPassengerStatus(ctx context.Context, arg UpsertPassengerStatusParams) error {
	_, err := q.db.ExecContext(ctx, upsertPassengerStatus,
		arg.Passenger,
		arg.FlightNumber,
		arg.FlightDate,
		arg.Tier,
		arg.Position,
		arg.NewlyAdded,
		arg.UpdatedAt,
	)
	return err
}

const getPassengerStatuses = `
select passenger, flight_number, flight_date, tier, position, newly_added, updated_at
from passenger_status
where flight_number = ? and flight_date = ?
order by passenger
`

type GetPassengerStatusesParams struct {
	FlightNumber string
	FlightDate   string
}

func (q *Queries) GetPassengerStatuses(ctx context.Context, arg GetPassengerStatusesParams) ([]PassengerStatus, error) {
	rows, err := q.db.QueryContext(ctx, getPassengerStatuses, arg.FlightNumber, arg.FlightDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PassengerStatus
	for rows.Next() {
		var i PassengerStatus
		if err := rows.Scan(
			&i.Passenger,
			&i.FlightNumber,
			&i.FlightDate,
			&i.Tier,
			&i.Position,
			&i.NewlyAdded,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getFlightsBetween = `
select distinct flight_number, flight_date
from flight_segment
where flight_date >= ? and flight_date <= ?
order by flight_date, flight_number
`

type GetFlightsBetweenParams struct {
	From string
	To   string
}

type GetFlightsBetweenRow struct {
	FlightNumber string
	FlightDate   string
}

func (q *Queries) GetFlightsBetween(ctx context.Context, arg GetFlightsBetweenParams) ([]GetFlightsBetweenRow, error) {
	rows, err := q.db.QueryContext(ctx, getFlightsBetween, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetFlightsBetweenRow
	for rows.Next() {
		var i GetFlightsBetweenRow
		if err := rows.Scan(&i.FlightNumber, &i.FlightDate); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
