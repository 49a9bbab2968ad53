// Package calstore persists detector calibration contexts and the configs
// they were produced under, keyed by sensor, in a local sqlite database. A
// saved calibration lets a restarted process skip the sensor-facing
// calibration steps when the planned session still matches.
package calstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/scaprile/gentry/internal/distance"
	"github.com/scaprile/gentry/internal/timeutil"
)

// ErrNotFound is returned when no calibration is stored for a sensor.
var ErrNotFound = errors.New("no stored calibration")

type Store struct {
	*sql.DB
	clock timeutil.Clock
}

// NewStore opens (or creates) the database at path. A nil clock uses the real
// time.
func NewStore(path string, clock timeutil.Clock) (*Store, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS calibrations (
			id TEXT PRIMARY KEY,
			sensor_id INTEGER NOT NULL,
			config TEXT NOT NULL,
			context TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS calibrations_sensor_saved
			ON calibrations (sensor_id, saved_at);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{DB: db, clock: clock}, nil
}

// SavedCalibration is one persisted calibration record.
type SavedCalibration struct {
	ID       string
	SensorID int
	Config   distance.DetectorConfig
	Context  *distance.DetectorContext
	SavedAt  time.Time
}

// Save stores the detector's calibration context together with the config it
// belongs to, returning the record id.
func (s *Store) Save(sensorID int, config distance.DetectorConfig, context *distance.DetectorContext) (string, error) {
	snapshot, err := context.Snapshot()
	if err != nil {
		return "", fmt.Errorf("snapshot context: %w", err)
	}
	contextJSON, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}

	id := uuid.NewString()
	_, err = s.Exec(
		"INSERT INTO calibrations (id, sensor_id, config, context, saved_at) VALUES (?, ?, ?, ?, ?)",
		id, sensorID, string(configJSON), string(contextJSON), s.clock.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

// LoadLatest returns the most recently saved calibration for a sensor, or
// ErrNotFound.
func (s *Store) LoadLatest(sensorID int) (*SavedCalibration, error) {
	row := s.QueryRow(
		"SELECT id, config, context, saved_at FROM calibrations WHERE sensor_id = ? ORDER BY saved_at DESC, id DESC LIMIT 1",
		sensorID)

	var rec SavedCalibration
	var configJSON, contextJSON string
	if err := row.Scan(&rec.ID, &configJSON, &contextJSON, &rec.SavedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.SensorID = sensorID

	if err := json.Unmarshal([]byte(configJSON), &rec.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	var snapshot distance.ContextSnapshot
	if err := json.Unmarshal([]byte(contextJSON), &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	context, err := distance.ContextFromSnapshot(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("rebuild context: %w", err)
	}
	rec.Context = context

	return &rec, nil
}

// Prune deletes all but the newest keep records per sensor.
func (s *Store) Prune(sensorID, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.Exec(`
		DELETE FROM calibrations WHERE sensor_id = ? AND id NOT IN (
			SELECT id FROM calibrations WHERE sensor_id = ?
			ORDER BY saved_at DESC, id DESC LIMIT ?
		)`, sensorID, sensorID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
