package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

// FileStore keeps the actuator state snapshot in a single JSON file.
type FileStore struct {
	path string
}

func New(path string) *FileStore {
	return &FileStore{path: path}
}

type snapshot struct {
	Zones []model.ActuatorState `json:"zones"`
}

// LoadActuatorState returns nil when no snapshot has been written yet.
func (s *FileStore) LoadActuatorState() ([]model.ActuatorState, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var snap snapshot
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if len(snap.Zones) == 0 {
		return nil, nil
	}
	return snap.Zones, nil
}

// SaveActuatorState writes to a temp file and renames it over the snapshot.
func (s *FileStore) SaveActuatorState(states []model.ActuatorState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot{Zones: states}); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	file.Close()

	return os.Rename(tmpPath, s.path)
}
