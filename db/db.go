package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

var ErrZoneNotFound = errors.New("zone not found")

const schema = `
CREATE TABLE IF NOT EXISTS zones (
	idx INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	schedule_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	schedule TEXT NOT NULL DEFAULT '',
	water_duration_seconds INTEGER NOT NULL,
	sensor_enabled BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS actuator_state (
	zone INTEGER PRIMARY KEY,
	is_watering BOOLEAN NOT NULL DEFAULT FALSE,
	last_watering_start_ms INTEGER NOT NULL DEFAULT 0,
	daily_watering_count INTEGER NOT NULL DEFAULT 0,
	last_reset_date TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	zone INTEGER NOT NULL,
	kind TEXT NOT NULL,
	ts_ms INTEGER NOT NULL,
	cause TEXT NOT NULL DEFAULT '',
	automatic BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	raw_value REAL,
	moisture_percent INTEGER,
	status TEXT NOT NULL DEFAULT '',
	schedule TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS history_zone_kind ON history (zone, kind, id);
`

// Open opens (creating if needed) the sqlite database at path and applies the schema.
// A single connection is used so ":memory:" databases behave like a file.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := CreateSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func CreateSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SeedZones inserts zones that do not exist yet. Zones already in the database
// keep their operator edits.
func SeedZones(db *sql.DB, zones []model.ZoneConfig) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, z := range zones {
		_, err = tx.Exec(`INSERT OR IGNORE INTO zones (idx, name, enabled, schedule_enabled, schedule, water_duration_seconds, sensor_enabled) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			z.Index, z.Name, z.Enabled, z.ScheduleEnabled, z.Schedule, z.WaterDurationSeconds, z.SensorEnabled)
		if err != nil {
			return fmt.Errorf("failed to insert zone %d: %w", z.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}

	log.Info().Int("zones", len(zones)).Msg("Zone settings seeded")
	return nil
}
