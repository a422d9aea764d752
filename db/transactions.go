package db

import (
	"database/sql"
	"fmt"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func SaveZones(db *sql.DB, zones []model.ZoneConfig) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	for _, z := range zones {
		_, err = tx.Exec(`INSERT OR REPLACE INTO zones (idx, name, enabled, schedule_enabled, schedule, water_duration_seconds, sensor_enabled) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			z.Index, z.Name, z.Enabled, z.ScheduleEnabled, z.Schedule, z.WaterDurationSeconds, z.SensorEnabled)
		if err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("save zone %d: %w", z.Index, err)
		}
	}
	return CommitTransaction(tx)
}

func updateZoneWithTx(tx *sql.Tx, idx int, query string, args ...any) error {
	res, err := tx.Exec(query, append(args, idx)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("zone %d: %w", idx, ErrZoneNotFound)
	}
	return nil
}

func updateZone(db *sql.DB, idx int, what, query string, args ...any) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	if err := updateZoneWithTx(tx, idx, query, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("update zone %s: %w", what, err)
	}
	return tx.Commit()
}

func UpdateZoneName(db *sql.DB, idx int, name string) error {
	return updateZone(db, idx, "name", `UPDATE zones SET name = ? WHERE idx = ?`, name)
}

func UpdateZoneSchedule(db *sql.DB, idx int, schedule string, durationSeconds int, enabled bool) error {
	return updateZone(db, idx, "schedule",
		`UPDATE zones SET schedule = ?, water_duration_seconds = ?, schedule_enabled = ? WHERE idx = ?`,
		schedule, durationSeconds, enabled)
}

func UpdateZoneEnabled(db *sql.DB, idx int, enabled bool) error {
	return updateZone(db, idx, "enabled", `UPDATE zones SET enabled = ? WHERE idx = ?`, enabled)
}

func UpdateSensorEnabled(db *sql.DB, idx int, enabled bool) error {
	return updateZone(db, idx, "sensor_enabled", `UPDATE zones SET sensor_enabled = ? WHERE idx = ?`, enabled)
}

func SaveActuatorStates(db *sql.DB, states []model.ActuatorState) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	for _, s := range states {
		_, err = tx.Exec(`INSERT OR REPLACE INTO actuator_state (zone, is_watering, last_watering_start_ms, daily_watering_count, last_reset_date) VALUES (?, ?, ?, ?, ?)`,
			s.Zone, s.IsWatering, s.LastWateringStartMillis, s.DailyWateringCount, s.LastResetDate)
		if err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("save actuator state for zone %d: %w", s.Zone, err)
		}
	}
	return CommitTransaction(tx)
}

// InsertHistoryEntry appends e and prunes the table to the newest keep rows.
// keep <= 0 disables pruning.
func InsertHistoryEntry(db *sql.DB, e model.HistoryEntry, keep int) (int64, error) {
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}

	var raw, percent any
	if e.RawValue != nil {
		raw = *e.RawValue
	}
	if e.MoisturePercent != nil {
		percent = *e.MoisturePercent
	}

	res, err := tx.Exec(`INSERT INTO history (zone, kind, ts_ms, cause, automatic, duration_ms, raw_value, moisture_percent, status, schedule) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Zone, string(e.Kind), e.Timestamp.UnixMilli(), string(e.Cause), e.Automatic, e.DurationMillis, raw, percent, string(e.Status), e.Schedule)
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("insert history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("insert history entry: %w", err)
	}

	if keep > 0 {
		_, err = tx.Exec(`DELETE FROM history WHERE id <= (SELECT id FROM history ORDER BY id DESC LIMIT 1 OFFSET ?)`, keep)
		if err != nil {
			RollbackTransaction(tx)
			return 0, fmt.Errorf("prune history: %w", err)
		}
	}

	return id, CommitTransaction(tx)
}
