package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Activity is the canonical record of one physically distinct ride.
// Optional metrics are pointers: absent data stays NULL so that a later
// merge from another provider can tell "missing" from "zero".
type Activity struct {
	ID                 string
	UserID             string
	Provider           string
	ProviderActivityID string
	SourcePriority     int
	Name               *string
	Sport              string
	StartTime          int64
	ElapsedSeconds     int64
	MovingSeconds      *int64
	DistanceM          *float64
	ElevationGainM     *float64
	AvgSpeedMps        *float64
	MaxSpeedMps        *float64
	AvgWatts           *float64
	MaxWatts           *float64
	AvgHeartRate       *float64
	MaxHeartRate       *float64
	Kilojoules         *float64
	MapPolyline        *string
	StreamsJSON        *string
	RawJSON            string
	ImportedFrom       string
	Deleted            bool
	CreatedAt          int64
	UpdatedAt          int64
}

const activityColumns = `id, user_id, provider, provider_activity_id, source_priority,
	       name, sport, start_time, elapsed_seconds, moving_seconds,
	       distance_m, elevation_gain_m, avg_speed_mps, max_speed_mps,
	       avg_watts, max_watts, avg_heart_rate, max_heart_rate, kilojoules,
	       map_polyline, streams_json, raw_json, imported_from, deleted,
	       created_at, updated_at`

// InsertActivity inserts a new canonical activity
func (db *DB) InsertActivity(a *Activity) error {
	now := time.Now().Unix()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := db.conn.Exec(`
		INSERT INTO activities (
			id, user_id, provider, provider_activity_id, source_priority,
			name, sport, start_time, elapsed_seconds, moving_seconds,
			distance_m, elevation_gain_m, avg_speed_mps, max_speed_mps,
			avg_watts, max_watts, avg_heart_rate, max_heart_rate, kilojoules,
			map_polyline, streams_json, raw_json, imported_from, deleted,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.Provider, a.ProviderActivityID, a.SourcePriority,
		a.Name, a.Sport, a.StartTime, a.ElapsedSeconds, a.MovingSeconds,
		a.DistanceM, a.ElevationGainM, a.AvgSpeedMps, a.MaxSpeedMps,
		a.AvgWatts, a.MaxWatts, a.AvgHeartRate, a.MaxHeartRate, a.Kilojoules,
		a.MapPolyline, a.StreamsJSON, a.RawJSON, a.ImportedFrom, a.Deleted,
		a.CreatedAt, a.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// GetActivity retrieves an activity by its canonical id
func (db *DB) GetActivity(id string) (*Activity, error) {
	row := db.conn.QueryRow(`
		SELECT `+activityColumns+`
		FROM activities WHERE id = ?
	`, id)
	return scanActivity(row)
}

// GetActivityByProviderID retrieves an activity by its provider-native
// identity. This is the same-provider uniqueness check: at most one row
// exists per (user_id, provider, provider_activity_id).
func (db *DB) GetActivityByProviderID(userID, provider, providerActivityID string) (*Activity, error) {
	row := db.conn.QueryRow(`
		SELECT `+activityColumns+`
		FROM activities
		WHERE user_id = ? AND provider = ? AND provider_activity_id = ?
	`, userID, provider, providerActivityID)
	return scanActivity(row)
}

func scanActivity(row *sql.Row) (*Activity, error) {
	var a Activity
	err := row.Scan(
		&a.ID, &a.UserID, &a.Provider, &a.ProviderActivityID, &a.SourcePriority,
		&a.Name, &a.Sport, &a.StartTime, &a.ElapsedSeconds, &a.MovingSeconds,
		&a.DistanceM, &a.ElevationGainM, &a.AvgSpeedMps, &a.MaxSpeedMps,
		&a.AvgWatts, &a.MaxWatts, &a.AvgHeartRate, &a.MaxHeartRate, &a.Kilojoules,
		&a.MapPolyline, &a.StreamsJSON, &a.RawJSON, &a.ImportedFrom, &a.Deleted,
		&a.CreatedAt, &a.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return &a, nil
}

// FindActivitiesNear returns the user's non-deleted activities from other
// providers whose start time falls within the given window. Candidates for
// cross-provider deduplication.
func (db *DB) FindActivitiesNear(userID, excludeProvider string, startTime int64, window time.Duration) ([]*Activity, error) {
	lo := startTime - int64(window.Seconds())
	hi := startTime + int64(window.Seconds())

	rows, err := db.conn.Query(`
		SELECT `+activityColumns+`
		FROM activities
		WHERE user_id = ?
		  AND provider != ?
		  AND deleted = 0
		  AND start_time BETWEEN ? AND ?
		ORDER BY start_time ASC
	`, userID, excludeProvider, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearby activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		var a Activity
		err := rows.Scan(
			&a.ID, &a.UserID, &a.Provider, &a.ProviderActivityID, &a.SourcePriority,
			&a.Name, &a.Sport, &a.StartTime, &a.ElapsedSeconds, &a.MovingSeconds,
			&a.DistanceM, &a.ElevationGainM, &a.AvgSpeedMps, &a.MaxSpeedMps,
			&a.AvgWatts, &a.MaxWatts, &a.AvgHeartRate, &a.MaxHeartRate, &a.Kilojoules,
			&a.MapPolyline, &a.StreamsJSON, &a.RawJSON, &a.ImportedFrom, &a.Deleted,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}

	return activities, nil
}

// TakeoverActivity replaces the provider attribution and primary metrics of
// an existing row with the incoming activity's data. The row id is preserved
// so comments, calendar links and other references stay valid.
func (db *DB) TakeoverActivity(id string, incoming *Activity) error {
	result, err := db.conn.Exec(`
		UPDATE activities
		SET provider = ?, provider_activity_id = ?, source_priority = ?,
		    name = ?, sport = ?, start_time = ?, elapsed_seconds = ?,
		    moving_seconds = ?, distance_m = ?, elevation_gain_m = ?,
		    avg_speed_mps = ?, max_speed_mps = ?, avg_watts = ?, max_watts = ?,
		    avg_heart_rate = ?, max_heart_rate = ?, kilojoules = ?,
		    raw_json = ?, imported_from = ?, updated_at = ?
		WHERE id = ?
	`, incoming.Provider, incoming.ProviderActivityID, incoming.SourcePriority,
		incoming.Name, incoming.Sport, incoming.StartTime, incoming.ElapsedSeconds,
		incoming.MovingSeconds, incoming.DistanceM, incoming.ElevationGainM,
		incoming.AvgSpeedMps, incoming.MaxSpeedMps, incoming.AvgWatts, incoming.MaxWatts,
		incoming.AvgHeartRate, incoming.MaxHeartRate, incoming.Kilojoules,
		incoming.RawJSON, incoming.ImportedFrom, time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to take over activity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("activity not found")
	}

	return nil
}

// MergeActivityFields backfills fields that are currently NULL on the
// existing row from the incoming activity. Populated fields are never
// overwritten by a merge.
func (db *DB) MergeActivityFields(id string, incoming *Activity) error {
	result, err := db.conn.Exec(`
		UPDATE activities
		SET moving_seconds = COALESCE(moving_seconds, ?),
		    distance_m = COALESCE(distance_m, ?),
		    elevation_gain_m = COALESCE(elevation_gain_m, ?),
		    avg_speed_mps = COALESCE(avg_speed_mps, ?),
		    max_speed_mps = COALESCE(max_speed_mps, ?),
		    avg_watts = COALESCE(avg_watts, ?),
		    max_watts = COALESCE(max_watts, ?),
		    avg_heart_rate = COALESCE(avg_heart_rate, ?),
		    max_heart_rate = COALESCE(max_heart_rate, ?),
		    kilojoules = COALESCE(kilojoules, ?),
		    map_polyline = COALESCE(map_polyline, ?),
		    updated_at = ?
		WHERE id = ?
	`, incoming.MovingSeconds, incoming.DistanceM, incoming.ElevationGainM,
		incoming.AvgSpeedMps, incoming.MaxSpeedMps, incoming.AvgWatts, incoming.MaxWatts,
		incoming.AvgHeartRate, incoming.MaxHeartRate, incoming.Kilojoules,
		incoming.MapPolyline, time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to merge activity fields: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("activity not found")
	}

	return nil
}

// AttachTelemetry stores parsed telemetry on the surviving row and fills
// any summary metrics the provider payload lacked
func (db *DB) AttachTelemetry(id string, polyline, streamsJSON *string, avgWatts, maxWatts, avgHeartRate, maxHeartRate *float64) error {
	result, err := db.conn.Exec(`
		UPDATE activities
		SET map_polyline = COALESCE(?, map_polyline),
		    streams_json = COALESCE(?, streams_json),
		    avg_watts = COALESCE(avg_watts, ?),
		    max_watts = COALESCE(max_watts, ?),
		    avg_heart_rate = COALESCE(avg_heart_rate, ?),
		    max_heart_rate = COALESCE(max_heart_rate, ?),
		    updated_at = ?
		WHERE id = ?
	`, polyline, streamsJSON, avgWatts, maxWatts, avgHeartRate, maxHeartRate,
		time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to attach telemetry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("activity not found")
	}

	return nil
}

// MarkActivityDeleted soft-deletes an activity in response to a provider
// delete event or explicit user action
func (db *DB) MarkActivityDeleted(id string) error {
	result, err := db.conn.Exec(`
		UPDATE activities
		SET deleted = 1, updated_at = ?
		WHERE id = ?
	`, time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to mark activity deleted: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("activity not found")
	}

	return nil
}

// ListActivitiesByUser returns a user's activities, newest first
func (db *DB) ListActivitiesByUser(userID string, limit int, includeDeleted bool) ([]*Activity, error) {
	query := `
		SELECT ` + activityColumns + `
		FROM activities
		WHERE user_id = ?
	`
	if !includeDeleted {
		query += " AND deleted = 0"
	}
	query += " ORDER BY start_time DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		var a Activity
		err := rows.Scan(
			&a.ID, &a.UserID, &a.Provider, &a.ProviderActivityID, &a.SourcePriority,
			&a.Name, &a.Sport, &a.StartTime, &a.ElapsedSeconds, &a.MovingSeconds,
			&a.DistanceM, &a.ElevationGainM, &a.AvgSpeedMps, &a.MaxSpeedMps,
			&a.AvgWatts, &a.MaxWatts, &a.AvgHeartRate, &a.MaxHeartRate, &a.Kilojoules,
			&a.MapPolyline, &a.StreamsJSON, &a.RawJSON, &a.ImportedFrom, &a.Deleted,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}

	return activities, nil
}
