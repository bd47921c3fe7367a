package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tms-tools/teamcal/internal/task"
)

// UpsertPersonalEvent stores a calendar-origin event record, keyed by the
// owner and the external event id so repeated pulls do not duplicate rows.
func (s *Store) UpsertPersonalEvent(ctx context.Context, rec task.PersonalEvent) error {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE personal_events SET title = $1, description = $2, location = $3,
			start_time = $4, end_time = $5, all_day = $6, updated_at = $7
		WHERE user_id = $8 AND google_event_id = $9`,
		rec.Title, rec.Description, rec.Location,
		rec.StartTime, rec.EndTime, rec.AllDay, now,
		rec.UserID, rec.GoogleEventID)
	if err != nil {
		return fmt.Errorf("failed to update personal event: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personal_events (id, user_id, title, description, location,
			start_time, end_time, all_day, google_event_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.UserID, rec.Title, rec.Description, rec.Location,
		rec.StartTime, rec.EndTime, rec.AllDay, rec.GoogleEventID, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert personal event: %w", err)
	}
	return nil
}

// ListPersonalEvents returns the calendar-origin records of a user in a
// time window.
func (s *Store) ListPersonalEvents(ctx context.Context, userID string, from, to time.Time) ([]task.PersonalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, location, start_time, end_time,
			all_day, google_event_id, created_at, updated_at
		FROM personal_events
		WHERE user_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list personal events: %w", err)
	}
	defer rows.Close()

	var events []task.PersonalEvent
	for rows.Next() {
		var rec task.PersonalEvent
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Description, &rec.Location,
			&rec.StartTime, &rec.EndTime, &rec.AllDay, &rec.GoogleEventID,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan personal event: %w", err)
		}
		events = append(events, rec)
	}
	return events, rows.Err()
}

// DeletePersonalEventsByGoogleID removes cached projections of a deleted
// external event.
func (s *Store) DeletePersonalEventsByGoogleID(ctx context.Context, googleEventID string) error {
	if googleEventID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM personal_events WHERE google_event_id = $1`, googleEventID)
	if err != nil {
		return fmt.Errorf("failed to delete personal events: %w", err)
	}
	return nil
}
