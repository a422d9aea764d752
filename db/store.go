package db

import (
	"database/sql"
	"errors"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

// Store exposes the sqlite tables as the settings, history and actuator-state
// stores used by the controllers.
type Store struct {
	conn         *sql.DB
	historyLimit int
}

func NewStore(conn *sql.DB, historyLimit int) *Store {
	return &Store{conn: conn, historyLimit: historyLimit}
}

func (s *Store) Conn() *sql.DB {
	return s.conn
}

func (s *Store) LoadSettings() ([]model.ZoneConfig, error) {
	return GetZones(s.conn)
}

func (s *Store) SaveSettings(zones []model.ZoneConfig) error {
	return SaveZones(s.conn, zones)
}

// UpdateZoneName reports false when the zone does not exist.
func (s *Store) UpdateZoneName(idx int, name string) (bool, error) {
	err := UpdateZoneName(s.conn, idx, name)
	if errors.Is(err, ErrZoneNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) UpdateZoneSchedule(idx int, schedule string, durationSeconds int, enabled bool) error {
	return UpdateZoneSchedule(s.conn, idx, schedule, durationSeconds, enabled)
}

func (s *Store) SetZoneEnabled(idx int, enabled bool) error {
	return UpdateZoneEnabled(s.conn, idx, enabled)
}

func (s *Store) SetSensorEnabled(idx int, enabled bool) error {
	return UpdateSensorEnabled(s.conn, idx, enabled)
}

func (s *Store) LoadActuatorState() ([]model.ActuatorState, error) {
	return GetActuatorStates(s.conn)
}

func (s *Store) SaveActuatorState(states []model.ActuatorState) error {
	return SaveActuatorStates(s.conn, states)
}

func (s *Store) AppendEntry(e model.HistoryEntry) error {
	_, err := InsertHistoryEntry(s.conn, e, s.historyLimit)
	return err
}

func (s *Store) QueryRecent(zone int, kind model.EntryKind, limit int) ([]model.HistoryEntry, error) {
	return GetRecentHistory(s.conn, zone, kind, limit)
}
