package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

// GetZones retrieves every zone ordered by index.
func GetZones(db *sql.DB) ([]model.ZoneConfig, error) {
	rows, err := db.Query(`SELECT idx, name, enabled, schedule_enabled, schedule, water_duration_seconds, sensor_enabled FROM zones ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []model.ZoneConfig
	for rows.Next() {
		var z model.ZoneConfig
		err = rows.Scan(&z.Index, &z.Name, &z.Enabled, &z.ScheduleEnabled, &z.Schedule, &z.WaterDurationSeconds, &z.SensorEnabled)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

func GetZone(db *sql.DB, idx int) (*model.ZoneConfig, error) {
	var z model.ZoneConfig
	err := db.QueryRow(`SELECT idx, name, enabled, schedule_enabled, schedule, water_duration_seconds, sensor_enabled FROM zones WHERE idx = ?`, idx).
		Scan(&z.Index, &z.Name, &z.Enabled, &z.ScheduleEnabled, &z.Schedule, &z.WaterDurationSeconds, &z.SensorEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("zone %d: %w", idx, ErrZoneNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zone %d: %w", idx, err)
	}
	return &z, nil
}

// GetActuatorStates returns nil when no state has ever been saved.
func GetActuatorStates(db *sql.DB) ([]model.ActuatorState, error) {
	rows, err := db.Query(`SELECT zone, is_watering, last_watering_start_ms, daily_watering_count, last_reset_date FROM actuator_state ORDER BY zone`)
	if err != nil {
		return nil, fmt.Errorf("failed to query actuator state: %w", err)
	}
	defer rows.Close()

	var states []model.ActuatorState
	for rows.Next() {
		var s model.ActuatorState
		if err := rows.Scan(&s.Zone, &s.IsWatering, &s.LastWateringStartMillis, &s.DailyWateringCount, &s.LastResetDate); err != nil {
			return nil, fmt.Errorf("failed to scan actuator state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// GetRecentHistory returns entries newest first. A negative zone or an empty
// kind matches every zone or kind.
func GetRecentHistory(db *sql.DB, zone int, kind model.EntryKind, limit int) ([]model.HistoryEntry, error) {
	var (
		where []string
		args  []any
	)
	if zone >= 0 {
		where = append(where, "zone = ?")
		args = append(args, zone)
	}
	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(kind))
	}

	query := `SELECT id, zone, kind, ts_ms, cause, automatic, duration_ms, raw_value, moisture_percent, status, schedule FROM history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var (
			e       model.HistoryEntry
			tsMs    int64
			raw     sql.NullFloat64
			percent sql.NullInt64
			kindStr string
			cause   string
			status  string
		)
		err = rows.Scan(&e.ID, &e.Zone, &kindStr, &tsMs, &cause, &e.Automatic, &e.DurationMillis, &raw, &percent, &status, &e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Kind = model.EntryKind(kindStr)
		e.Cause = model.Cause(cause)
		e.Status = model.Status(status)
		e.Timestamp = time.UnixMilli(tsMs)
		if raw.Valid {
			v := raw.Float64
			e.RawValue = &v
		}
		if percent.Valid {
			p := int(percent.Int64)
			e.MoisturePercent = &p
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
