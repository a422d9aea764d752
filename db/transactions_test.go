package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func seedTwoZones(t *testing.T, conn *sql.DB) {
	require.NoError(t, SeedZones(conn, []model.ZoneConfig{
		{Index: 0, Name: "Tomatoes", Enabled: true, Schedule: "0 8 * * *", WaterDurationSeconds: 15, SensorEnabled: true},
		{Index: 1, Name: "Herbs", Enabled: true, ScheduleEnabled: true, Schedule: "0 18 * * *", WaterDurationSeconds: 12},
	}))
}

func TestSeedZones_KeepsOperatorEdits(t *testing.T) {
	conn := openTestDB(t)
	seedTwoZones(t, conn)

	require.NoError(t, UpdateZoneName(conn, 0, "Peppers"))
	seedTwoZones(t, conn)

	zones, err := GetZones(conn)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, "Peppers", zones[0].Name)
	assert.Equal(t, "Herbs", zones[1].Name)
	assert.True(t, zones[1].ScheduleEnabled)
	assert.False(t, zones[1].SensorEnabled)
}

func TestZoneUpdates(t *testing.T) {
	conn := openTestDB(t)
	seedTwoZones(t, conn)

	require.NoError(t, UpdateZoneSchedule(conn, 0, "0 9 * * 1,3,5", 20, true))
	require.NoError(t, UpdateZoneEnabled(conn, 1, false))
	require.NoError(t, UpdateSensorEnabled(conn, 0, false))

	z, err := GetZone(conn, 0)
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1,3,5", z.Schedule)
	assert.Equal(t, 20, z.WaterDurationSeconds)
	assert.True(t, z.ScheduleEnabled)
	assert.False(t, z.SensorEnabled)

	z, err = GetZone(conn, 1)
	require.NoError(t, err)
	assert.False(t, z.Enabled)

	err = UpdateZoneEnabled(conn, 7, true)
	assert.True(t, errors.Is(err, ErrZoneNotFound))
	_, err = GetZone(conn, 7)
	assert.True(t, errors.Is(err, ErrZoneNotFound))
}

func TestStore_UpdateZoneName(t *testing.T) {
	conn := openTestDB(t)
	seedTwoZones(t, conn)
	store := NewStore(conn, 0)

	ok, err := store.UpdateZoneName(1, "Basil")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateZoneName(5, "Nowhere")
	require.NoError(t, err)
	assert.False(t, ok)

	zones, err := store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "Basil", zones[1].Name)
}

func TestActuatorStateRoundTrip(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn, 0)

	states, err := store.LoadActuatorState()
	require.NoError(t, err)
	assert.Nil(t, states)

	saved := []model.ActuatorState{
		{Zone: 0, LastWateringStartMillis: 1717400000000, DailyWateringCount: 2, LastResetDate: "2024-06-03"},
		{Zone: 1, IsWatering: true, LastWateringStartMillis: 1717400500000, LastResetDate: "2024-06-03"},
	}
	require.NoError(t, store.SaveActuatorState(saved))
	saved[0].DailyWateringCount = 3
	require.NoError(t, store.SaveActuatorState(saved))

	loaded, err := store.LoadActuatorState()
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestHistory_RecentFirstAndFiltered(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn, 0)
	base := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	raw := 21000.0
	percent := 12
	entries := []model.HistoryEntry{
		{Zone: 0, Kind: model.KindSensorReading, Timestamp: base, Status: model.StatusDry, RawValue: &raw, MoisturePercent: &percent},
		{Zone: 1, Kind: model.KindSensorReading, Timestamp: base, Status: model.StatusWet},
		{Zone: 0, Kind: model.KindWateringStarted, Timestamp: base.Add(time.Minute), Cause: model.CauseManual, DurationMillis: 5000},
		{Zone: 0, Kind: model.KindSensorReading, Timestamp: base.Add(15 * time.Minute), Status: model.StatusMoist},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendEntry(e))
	}

	readings, err := store.QueryRecent(0, model.KindSensorReading, 10)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, model.StatusMoist, readings[0].Status)
	assert.Equal(t, model.StatusDry, readings[1].Status)
	require.NotNil(t, readings[1].RawValue)
	assert.Equal(t, 21000.0, *readings[1].RawValue)
	assert.Equal(t, 12, *readings[1].MoisturePercent)
	assert.Nil(t, readings[0].RawValue)
	assert.True(t, readings[1].Timestamp.Equal(base))

	all, err := store.QueryRecent(-1, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, model.CauseManual, all[1].Cause)
	assert.Equal(t, int64(5000), all[1].DurationMillis)

	limited, err := store.QueryRecent(0, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, model.KindSensorReading, limited[0].Kind)
}

func TestHistory_Retention(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEntry(model.HistoryEntry{
			Zone: 0, Kind: model.KindWateringStarted, Timestamp: time.UnixMilli(int64(i)), DurationMillis: int64(i),
		}))
	}

	all, err := store.QueryRecent(-1, "", 100)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(4), all[0].DurationMillis)
	assert.Equal(t, int64(2), all[2].DurationMillis)
}
