package storage

import (
	"database/sql"
	"fmt"
)

// schemaStatements is the full DDL, idempotent so startup can run it every
// time.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS groups (
		groupid INTEGER PRIMARY KEY,
		name    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sensors (
		sensorid INTEGER PRIMARY KEY,
		groupid  INTEGER NOT NULL REFERENCES groups(groupid),
		name     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rtypes (
		rtypeid INTEGER PRIMARY KEY,
		name    TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS readings (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		sensorid INTEGER NOT NULL,
		groupid  INTEGER NOT NULL,
		rtypeid  INTEGER NOT NULL,
		ts       INTEGER NOT NULL,
		val      REAL NOT NULL
	)`,
	// The stream queries filter on (sensorid, rtypeid) and sort on ts.
	`CREATE INDEX IF NOT EXISTS idx_readings_stream ON readings(sensorid, rtypeid, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_sensors_group ON sensors(groupid)`,
}

// seedRTypes is the built-in reading-type catalog.
var seedRTypes = []struct {
	id   int64
	name string
}{
	{1, "light"},
	{2, "temp"},
	{3, "humid"},
	{4, "gyro"},
	{5, "accel"},
}

// ensureSchema creates the tables and indexes and seeds the reading-type
// catalog.
func ensureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	for _, rt := range seedRTypes {
		_, err := db.Exec(`INSERT OR IGNORE INTO rtypes (rtypeid, name) VALUES (?, ?)`, rt.id, rt.name)
		if err != nil {
			return fmt.Errorf("failed to seed reading type %q: %w", rt.name, err)
		}
	}
	return nil
}
