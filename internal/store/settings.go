package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tms-tools/teamcal/internal/task"
)

// GetSyncSettings returns the user's calendar sync settings. Users who have
// never touched the settings get the disabled defaults.
func (s *Store) GetSyncSettings(ctx context.Context, userID string) (task.SyncSettings, error) {
	settings := task.SyncSettings{
		UserID:            userID,
		Direction:         task.SyncTMSToGoogle,
		SyncTaskDeadlines: true,
		SyncTeamEvents:    true,
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, direction, sync_task_deadlines, sync_team_events,
			sync_personal_events, sync_holidays
		FROM sync_settings WHERE user_id = $1`, userID).
		Scan(&settings.Enabled, &settings.Direction, &settings.SyncTaskDeadlines,
			&settings.SyncTeamEvents, &settings.SyncPersonalEvents, &settings.SyncHolidays)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("failed to get sync settings: %w", err)
	}
	return settings, nil
}

// PutSyncSettings stores the user's calendar sync settings.
func (s *Store) PutSyncSettings(ctx context.Context, settings task.SyncSettings) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_settings SET enabled = $1, direction = $2,
			sync_task_deadlines = $3, sync_team_events = $4,
			sync_personal_events = $5, sync_holidays = $6
		WHERE user_id = $7`,
		settings.Enabled, settings.Direction, settings.SyncTaskDeadlines,
		settings.SyncTeamEvents, settings.SyncPersonalEvents, settings.SyncHolidays,
		settings.UserID)
	if err != nil {
		return fmt.Errorf("failed to update sync settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_settings (user_id, enabled, direction, sync_task_deadlines,
			sync_team_events, sync_personal_events, sync_holidays)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		settings.UserID, settings.Enabled, settings.Direction, settings.SyncTaskDeadlines,
		settings.SyncTeamEvents, settings.SyncPersonalEvents, settings.SyncHolidays)
	if err != nil {
		return fmt.Errorf("failed to insert sync settings: %w", err)
	}
	return nil
}
