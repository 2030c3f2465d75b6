package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

// ErrInvalidTransition is returned when an event status update would move
// the event backwards in its lifecycle.
var ErrInvalidTransition = errors.New("invalid event status transition")

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// InsertEvents persists the given events in one transaction.
func (s *Store) InsertEvents(ctx context.Context, events []domain.RoadEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert events: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO road_events
(id, aggregate_id, segment_id, event_type, severity, score, reason, status, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert events: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.ID, ev.AggregateID, ev.SegmentID, string(ev.Type), string(ev.Severity),
			nullFloat(ev.Score), ev.Reason, string(ev.Status),
			formatTime(ev.CreatedAt), formatTime(ev.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// EventFilter narrows event listings.
type EventFilter struct {
	SegmentID string
	Type      domain.EventType
	Severity  domain.Severity
	Status    domain.EventStatus
	Limit     int
}

// ListEvents returns events matching the filter, newest first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]domain.RoadEvent, error) {
	q := `SELECT id, aggregate_id, segment_id, event_type, severity, score, reason, status, created_at, updated_at
FROM road_events WHERE 1=1`
	var args []any
	if f.SegmentID != "" {
		q += " AND segment_id = ?"
		args = append(args, f.SegmentID)
	}
	if f.Type != "" {
		q += " AND event_type = ?"
		args = append(args, string(f.Type))
	}
	if f.Severity != "" {
		q += " AND severity = ?"
		args = append(args, string(f.Severity))
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.RoadEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(row interface{ Scan(...any) error }) (domain.RoadEvent, error) {
	var (
		ev                   domain.RoadEvent
		evType, sev, status  string
		score                sql.NullFloat64
		createdAt, updatedAt string
	)
	err := row.Scan(&ev.ID, &ev.AggregateID, &ev.SegmentID, &evType, &sev, &score,
		&ev.Reason, &status, &createdAt, &updatedAt)
	if err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	ev.Type = domain.EventType(evType)
	ev.Severity = domain.Severity(sev)
	ev.Score = floatPtr(score)
	ev.Status = domain.EventStatus(status)
	ev.CreatedAt = parseTime(createdAt)
	ev.UpdatedAt = parseTime(updatedAt)
	return ev, nil
}

// UpdateEventStatus moves an event to a new lifecycle status, enforcing the
// forward-only transition rules.
func (s *Store) UpdateEventStatus(ctx context.Context, id string, to domain.EventStatus, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM road_events WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load event status: %w", err)
	}
	if !domain.ValidStatusTransition(domain.EventStatus(current), to) {
		return fmt.Errorf("%s -> %s: %w", current, to, ErrInvalidTransition)
	}
	_, err = tx.ExecContext(ctx, "UPDATE road_events SET status = ?, updated_at = ? WHERE id = ?",
		string(to), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	return tx.Commit()
}
