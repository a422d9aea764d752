package model

import "time"

// DateLayout is the calendar-date format used for daily counter resets.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusAir      Status = "air"
	StatusDry      Status = "dry"
	StatusMoist    Status = "moist"
	StatusWet      Status = "wet"
	StatusWater    Status = "water"
	StatusDisabled Status = "disabled"
	StatusError    Status = "error"
)

// NeedsWater reports whether the status counts towards a dry-soil trigger.
func (s Status) NeedsWater() bool {
	return s == StatusDry || s == StatusAir
}

type Cause string

const (
	CauseManual    Cause = "manual"
	CauseScheduled Cause = "scheduled"
	CauseMoisture  Cause = "moisture"
)

type EntryKind string

const (
	KindWateringStarted   EntryKind = "watering_started"
	KindWateringStopped   EntryKind = "watering_stopped"
	KindScheduledWatering EntryKind = "scheduled_watering"
	KindSensorReading     EntryKind = "sensor_reading"
)

// ZoneConfig is the operator-editable part of a zone, owned by the settings store.
type ZoneConfig struct {
	Index                int    `json:"index"`
	Name                 string `json:"name"`
	Enabled              bool   `json:"enabled"`
	ScheduleEnabled      bool   `json:"schedule_enabled"`
	Schedule             string `json:"schedule"`
	WaterDurationSeconds int    `json:"water_duration_seconds"`
	SensorEnabled        bool   `json:"sensor_enabled"`
}

func (z ZoneConfig) WaterDuration() time.Duration {
	return time.Duration(z.WaterDurationSeconds) * time.Second
}

// ActuatorState is the persisted per-zone pump state.
type ActuatorState struct {
	Zone                    int    `json:"zone"`
	IsWatering              bool   `json:"is_watering"`
	LastWateringStartMillis int64  `json:"last_watering_start_millis"`
	DailyWateringCount      int    `json:"daily_watering_count"`
	LastResetDate           string `json:"last_reset_date"`
}

type Reading struct {
	Zone            int       `json:"zone"`
	Channel         int       `json:"channel"`
	RawValue        *float64  `json:"raw_value"`
	MoisturePercent *int      `json:"moisture_percent"`
	Status          Status    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}

// Valid reports whether the reading carries a measured value.
func (r Reading) Valid() bool {
	return r.Status != StatusError && r.Status != StatusDisabled && r.RawValue != nil
}

type HistoryEntry struct {
	ID              int64     `json:"id"`
	Zone            int       `json:"zone"`
	Kind            EntryKind `json:"kind"`
	Timestamp       time.Time `json:"timestamp"`
	Cause           Cause     `json:"cause,omitempty"`
	Automatic       bool      `json:"automatic,omitempty"`
	DurationMillis  int64     `json:"duration_ms,omitempty"`
	RawValue        *float64  `json:"raw_value,omitempty"`
	MoisturePercent *int      `json:"moisture_percent,omitempty"`
	Status          Status    `json:"status,omitempty"`
	Schedule        string    `json:"schedule,omitempty"`
}

type ScheduleJob struct {
	Zone            int        `json:"zone"`
	Expression      string     `json:"expression"`
	DurationSeconds int        `json:"duration_seconds"`
	Active          bool       `json:"active"`
	Next            *time.Time `json:"next,omitempty"`
}

// ZoneStatus is the externally visible snapshot of one zone.
type ZoneStatus struct {
	Zone               int        `json:"zone"`
	Name               string     `json:"name"`
	Initialized        bool       `json:"initialized"`
	IsWatering         bool       `json:"is_watering"`
	LastWateringStart  *time.Time `json:"last_watering_start,omitempty"`
	DailyWateringCount int        `json:"daily_watering_count"`
	LastResetDate      string     `json:"last_reset_date"`
}
