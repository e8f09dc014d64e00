package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyReading(t *testing.T) {
	valid := Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 100, Val: 21.5}
	require.NoError(t, VerifyReading(valid))

	tests := []struct {
		name   string
		mutate func(*Reading)
	}{
		{"missing sensorid", func(r *Reading) { r.SensorID = 0 }},
		{"missing groupid", func(r *Reading) { r.GroupID = 0 }},
		{"missing rtypeid", func(r *Reading) { r.RTypeID = 0 }},
		{"missing ts", func(r *Reading) { r.TS = 0 }},
		{"negative ts", func(r *Reading) { r.TS = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := VerifyReading(r)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}
}

func TestVerifyReadingZeroValueAllowed(t *testing.T) {
	r := Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 100, Val: 0}
	assert.NoError(t, VerifyReading(r), "a zero measurement is a valid reading")
}

func TestFormatReading(t *testing.T) {
	r := Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 0, Val: 21.5}
	assert.Equal(t, "Time: Thu 01.01.1970 00:00:00, Value: 21.5", FormatReading(r))
}

func TestFormatReadingCompactFloat(t *testing.T) {
	r := Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 0, Val: 100}
	assert.Equal(t, "Time: Thu 01.01.1970 00:00:00, Value: 100", FormatReading(r),
		"%g formatting drops the trailing zeros")
}
