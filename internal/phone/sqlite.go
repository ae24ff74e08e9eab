package phone

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	prefHighTempKey  = "pref_last_watch_face_high_temp"
	prefLowTempKey   = "pref_last_watch_face_low_temp"
	prefWeatherIDKey = "pref_last_watch_face_weather_id"
)

// SQLiteMarkerStore persists the marker as rows of a key/value preferences table.
type SQLiteMarkerStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ MarkerStore = (*SQLiteMarkerStore)(nil)

// NewSQLiteMarkerStore opens (or creates) the database at path.
func NewSQLiteMarkerStore(path string, logger *zap.Logger) (*SQLiteMarkerStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening marker db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn("could not set WAL mode", zap.Error(err))
	}

	schema := `CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating preferences table: %w", err)
	}

	return &SQLiteMarkerStore{db: db, logger: logger}, nil
}

// Load returns ClearedMarker for any key that was never written.
func (s *SQLiteMarkerStore) Load(ctx context.Context) (Marker, error) {
	m := ClearedMarker

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM preferences WHERE key IN (?, ?, ?)`,
		prefHighTempKey, prefLowTempKey, prefWeatherIDKey)
	if err != nil {
		return Marker{}, fmt.Errorf("loading marker: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Marker{}, fmt.Errorf("scanning marker: %w", err)
		}
		switch key {
		case prefHighTempKey:
			m.HighTemp = value
		case prefLowTempKey:
			m.LowTemp = value
		case prefWeatherIDKey:
			id, err := strconv.Atoi(value)
			if err != nil {
				s.logger.Warn("corrupt weather id preference", zap.String("value", value))
				id = ClearedMarker.WeatherID
			}
			m.WeatherID = id
		}
	}
	return m, rows.Err()
}

// Save replaces the stored marker.
func (s *SQLiteMarkerStore) Save(ctx context.Context, m Marker) error {
	return s.write(ctx, m)
}

// Clear stores ClearedMarker so the next publish always goes out.
func (s *SQLiteMarkerStore) Clear(ctx context.Context) error {
	return s.write(ctx, ClearedMarker)
}

// write stores all three keys in one transaction.
func (s *SQLiteMarkerStore) write(ctx context.Context, m Marker) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin marker tx: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO preferences(key, value) VALUES(?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing marker write: %w", err)
	}
	defer stmt.Close()

	values := [][2]string{
		{prefHighTempKey, m.HighTemp},
		{prefLowTempKey, m.LowTemp},
		{prefWeatherIDKey, strconv.Itoa(m.WeatherID)},
	}
	for _, kv := range values {
		if _, err = stmt.ExecContext(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("writing %s: %w", kv[0], err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing marker: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteMarkerStore) Close() error {
	return s.db.Close()
}
