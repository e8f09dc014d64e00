package interfaces

import (
	"context"

	"sensorhub/pkg/types"
)

// Store is the persistent readings store consumed by the router, the ingestion
// path, and the catalog API. Implementations must support concurrent readers.
type Store interface {
	// Latest returns the most recent n readings for a stream in ascending
	// timestamp order.
	Latest(ctx context.Context, sensorID, rtypeID int64, n int) ([]types.Reading, error)

	// Range returns all readings for a stream with start <= ts <= end in
	// ascending timestamp order.
	Range(ctx context.Context, sensorID, rtypeID, start, end int64) ([]types.Reading, error)

	// Aggregate computes avg/min/max over the closed range [start, end].
	// Returns ErrNoData when the range contains no readings.
	Aggregate(ctx context.Context, sensorID, rtypeID, start, end int64) (types.Stats, error)

	// SensorBelongsToGroup reports whether the sensor is a member of the group.
	SensorBelongsToGroup(ctx context.Context, groupID, sensorID int64) (bool, error)

	// InsertReading persists a new reading.
	InsertReading(ctx context.Context, r types.Reading) error

	ListGroups(ctx context.Context) ([]types.Group, error)
	ListSensors(ctx context.Context, groupID int64) ([]types.Sensor, error)
	ListRTypes(ctx context.Context) ([]types.RType, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
