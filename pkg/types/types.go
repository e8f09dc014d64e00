package types

import (
	"fmt"
	"time"
)

// Reading is a single measurement produced by the ingestion path. Immutable
// once constructed; the display string is attached at the fan-out boundary.
type Reading struct {
	SensorID int64   `json:"sensorid"`
	GroupID  int64   `json:"groupid"`
	RTypeID  int64   `json:"rtypeid"`
	TS       int64   `json:"ts"` // seconds since epoch
	Val      float64 `json:"val"`
	Display  string  `json:"display,omitempty"`
}

// Stats is the result of a historical aggregate query over a closed time range.
type Stats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AlertRecord captures a delivered reading that fell outside the session's
// deviation bounds, together with the reading that preceded it. Alerts live in
// session-local memory only and are cleared by the viewer.
type AlertRecord struct {
	Current Reading `json:"current"`
	Prior   Reading `json:"prior"`
	Message string  `json:"message"`
}

// Group is a deployment of sensors.
type Group struct {
	GroupID int64  `json:"groupid"`
	Name    string `json:"name"`
}

// Sensor belongs to exactly one group.
type Sensor struct {
	SensorID int64  `json:"sensorid"`
	GroupID  int64  `json:"groupid"`
	Name     string `json:"name"`
}

// RType describes a reading type (temperature, humidity, ...).
type RType struct {
	RTypeID int64  `json:"rtypeid"`
	Name    string `json:"name"`
}

// VerifyReading checks that a reading carries every required field. Zero is a
// valid measurement value, so only identifiers and the timestamp are
// constrained.
func VerifyReading(r Reading) error {
	if r.SensorID <= 0 {
		return fmt.Errorf("%w: sensorid", ErrMissingField)
	}
	if r.GroupID <= 0 {
		return fmt.Errorf("%w: groupid", ErrMissingField)
	}
	if r.RTypeID <= 0 {
		return fmt.Errorf("%w: rtypeid", ErrMissingField)
	}
	if r.TS <= 0 {
		return fmt.Errorf("%w: ts", ErrMissingField)
	}
	return nil
}

// FormatReading generates the pre-formatted list entry shown to viewers.
func FormatReading(r Reading) string {
	ts := time.Unix(r.TS, 0).UTC().Format("Mon 02.01.2006 15:04:05")
	return fmt.Sprintf("Time: %s, Value: %g", ts, r.Val)
}
