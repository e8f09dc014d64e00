// Package storage is the SQLite-backed readings store. Reads run concurrently
// on the connection pool; all writes funnel through a single goroutine because
// SQLite allows one writer at a time.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"sensorhub/pkg/interfaces"
	"sensorhub/pkg/types"
)

// Config holds the storage tunables.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	WriteBuffer     int
}

// DefaultConfig returns settings suitable for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		Path:            "./sensorhub.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		WriteBuffer:     100,
	}
}

// Store implements interfaces.Store on SQLite.
type Store struct {
	db      *sql.DB
	writeCh chan writeOp

	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool

	log *zap.Logger
}

type writeOp struct {
	run    func(*sql.DB) error
	result chan error
}

// New opens the database, applies the pragmas, ensures the schema, and starts
// the writer goroutine.
func New(cfg Config, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, cfg.WriteBuffer),
		shutdown: make(chan struct{}),
		log:      log,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// writeLoop serializes all writes. A failed write is retried once after a
// delay; the second failure is returned to the caller.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := op.run(s.db)
			if err != nil {
				s.log.Warn("write failed, retrying", zap.Error(err))
				time.Sleep(5 * time.Second)
				err = op.run(s.db)
				if err != nil {
					s.log.Error("write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(run func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{run: run, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// InsertReading persists one reading through the writer goroutine.
func (s *Store) InsertReading(ctx context.Context, r types.Reading) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO readings (sensorid, groupid, rtypeid, ts, val)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query, r.SensorID, r.GroupID, r.RTypeID, r.TS, r.Val)
		if err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
		return nil
	})
}

// Latest returns the most recent n readings for a stream in ascending
// timestamp order. It selects descending with a limit and reverses the page.
func (s *Store) Latest(ctx context.Context, sensorID, rtypeID int64, n int) ([]types.Reading, error) {
	query := `
		SELECT sensorid, groupid, rtypeid, ts, val
		FROM readings
		WHERE sensorid = ? AND rtypeid = ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, sensorID, rtypeID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	readings, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}

// Range returns every reading for a stream with start <= ts <= end, oldest
// first.
func (s *Store) Range(ctx context.Context, sensorID, rtypeID, start, end int64) ([]types.Reading, error) {
	query := `
		SELECT sensorid, groupid, rtypeid, ts, val
		FROM readings
		WHERE sensorid = ? AND rtypeid = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sensorID, rtypeID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query reading range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanReadings(rows)
}

// Aggregate computes avg/min/max over the closed range. Returns
// interfaces.ErrNoData when no reading falls inside it.
func (s *Store) Aggregate(ctx context.Context, sensorID, rtypeID, start, end int64) (types.Stats, error) {
	query := `
		SELECT COUNT(val), COALESCE(AVG(val), 0), COALESCE(MIN(val), 0), COALESCE(MAX(val), 0)
		FROM readings
		WHERE sensorid = ? AND rtypeid = ? AND ts >= ? AND ts <= ?
	`
	var count int64
	var result types.Stats
	err := s.db.QueryRowContext(ctx, query, sensorID, rtypeID, start, end).
		Scan(&count, &result.Avg, &result.Min, &result.Max)
	if err != nil {
		return types.Stats{}, fmt.Errorf("failed to aggregate readings: %w", err)
	}
	if count == 0 {
		return types.Stats{}, interfaces.ErrNoData
	}
	return result, nil
}

// SensorBelongsToGroup reports whether the sensor is registered under the
// group. Unknown sensors and unknown groups both report false.
func (s *Store) SensorBelongsToGroup(ctx context.Context, groupID, sensorID int64) (bool, error) {
	query := `SELECT 1 FROM sensors WHERE sensorid = ? AND groupid = ?`
	var one int
	err := s.db.QueryRowContext(ctx, query, sensorID, groupID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check sensor membership: %w", err)
	}
	return true, nil
}

// ListGroups returns every registered group.
func (s *Store) ListGroups(ctx context.Context) ([]types.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT groupid, name FROM groups ORDER BY groupid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []types.Group
	for rows.Next() {
		var g types.Group
		if err := rows.Scan(&g.GroupID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group rows: %w", err)
	}
	return groups, nil
}

// ListSensors returns the sensors registered under a group.
func (s *Store) ListSensors(ctx context.Context, groupID int64) ([]types.Sensor, error) {
	query := `SELECT sensorid, groupid, name FROM sensors WHERE groupid = ? ORDER BY sensorid ASC`
	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sensors []types.Sensor
	for rows.Next() {
		var sn types.Sensor
		if err := rows.Scan(&sn.SensorID, &sn.GroupID, &sn.Name); err != nil {
			return nil, fmt.Errorf("failed to scan sensor row: %w", err)
		}
		sensors = append(sensors, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sensor rows: %w", err)
	}
	return sensors, nil
}

// ListRTypes returns the reading-type catalog.
func (s *Store) ListRTypes(ctx context.Context) ([]types.RType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rtypeid, name FROM rtypes ORDER BY rtypeid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reading types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rtypes []types.RType
	for rows.Next() {
		var rt types.RType
		if err := rows.Scan(&rt.RTypeID, &rt.Name); err != nil {
			return nil, fmt.Errorf("failed to scan rtype row: %w", err)
		}
		rtypes = append(rtypes, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rtype rows: %w", err)
	}
	return rtypes, nil
}

// RegisterGroup inserts a group, ignoring duplicates. Used by seeding and
// tests.
func (s *Store) RegisterGroup(ctx context.Context, g types.Group) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO groups (groupid, name) VALUES (?, ?)`, g.GroupID, g.Name)
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
		return nil
	})
}

// RegisterSensor inserts a sensor, ignoring duplicates.
func (s *Store) RegisterSensor(ctx context.Context, sn types.Sensor) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO sensors (sensorid, groupid, name) VALUES (?, ?, ?)`,
			sn.SensorID, sn.GroupID, sn.Name)
		if err != nil {
			return fmt.Errorf("failed to insert sensor: %w", err)
		}
		return nil
	})
}

// HealthCheck validates connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rtypes").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains the writer goroutine and closes the connection pool. Safe to
// call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	var readings []types.Reading
	for rows.Next() {
		var r types.Reading
		if err := rows.Scan(&r.SensorID, &r.GroupID, &r.RTypeID, &r.TS, &r.Val); err != nil {
			return nil, fmt.Errorf("failed to scan reading row: %w", err)
		}
		r.Display = types.FormatReading(r)
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reading rows: %w", err)
	}
	return readings, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
