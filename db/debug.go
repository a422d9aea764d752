package db

import (
	"fmt"
	"io"
	"time"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/recurrence"
)

func SetZoneNameCLI(dbPath string, zone int, name string) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return UpdateZoneName(conn, zone, name)
}

func SetZoneEnabledCLI(dbPath string, zone int, enabled bool) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return UpdateZoneEnabled(conn, zone, enabled)
}

func SetSensorEnabledCLI(dbPath string, zone int, enabled bool) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return UpdateSensorEnabled(conn, zone, enabled)
}

func SetZoneScheduleCLI(dbPath string, zone int, schedule string, durationSeconds int, enabled bool) error {
	if err := recurrence.Validate(schedule); err != nil {
		return err
	}
	if durationSeconds <= 0 {
		return fmt.Errorf("duration must be positive, got %d", durationSeconds)
	}
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return UpdateZoneSchedule(conn, zone, schedule, durationSeconds, enabled)
}

func ShowStateCLI(dbPath string, w io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	zones, err := GetZones(conn)
	if err != nil {
		return err
	}
	states, err := GetActuatorStates(conn)
	if err != nil {
		return err
	}
	byZone := make(map[int]model.ActuatorState, len(states))
	for _, s := range states {
		byZone[s.Zone] = s
	}

	now := time.Now()
	for _, z := range zones {
		next := "unknown"
		if z.Enabled && z.ScheduleEnabled {
			if t, ok := recurrence.Next(z.Schedule, now); ok {
				next = t.Format(time.RFC3339)
			}
		} else {
			next = "off"
		}
		s := byZone[z.Index]
		last := "never"
		if s.LastWateringStartMillis > 0 {
			last = time.UnixMilli(s.LastWateringStartMillis).Format(time.RFC3339)
		}
		fmt.Fprintf(w, "zone %d %-16q enabled=%-5v sensor=%-5v schedule=%q (%ds) next=%s last=%s today=%d\n",
			z.Index, z.Name, z.Enabled, z.SensorEnabled, z.Schedule, z.WaterDurationSeconds, next, last, s.DailyWateringCount)
	}
	return nil
}

func HistoryCLI(dbPath string, zone int, limit int, w io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	entries, err := GetRecentHistory(conn, zone, "", limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		detail := string(e.Cause)
		switch e.Kind {
		case model.KindSensorReading:
			detail = string(e.Status)
			if e.MoisturePercent != nil {
				detail = fmt.Sprintf("%s %d%%", e.Status, *e.MoisturePercent)
			}
		case model.KindWateringStopped:
			detail = fmt.Sprintf("automatic=%v", e.Automatic)
		case model.KindScheduledWatering:
			detail = e.Schedule
		}
		fmt.Fprintf(w, "%s zone %d %-18s %s\n", e.Timestamp.Format(time.RFC3339), e.Zone, e.Kind, detail)
	}
	return nil
}
