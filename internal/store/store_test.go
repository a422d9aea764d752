package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

func TestFileStore_MissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))

	states, err := s.LoadActuatorState()
	require.NoError(t, err)
	assert.Nil(t, states)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "state.json")
	s := New(path)

	want := []model.ActuatorState{
		{Zone: 0, LastWateringStartMillis: 1717408800000, DailyWateringCount: 2, LastResetDate: "2024-06-03"},
		{Zone: 1, IsWatering: true, LastResetDate: "2024-06-03"},
	}
	require.NoError(t, s.SaveActuatorState(want))

	got, err := s.LoadActuatorState()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file renamed away")
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := New(path).LoadActuatorState()
	assert.Error(t, err)
}
