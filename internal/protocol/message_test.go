package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorhub/pkg/types"
)

func TestDecode_Commands(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want Request
	}{
		{
			name: "join",
			data: `{"cmd":"RQST_JOIN","groupid":1,"sensorid":7}`,
			want: JoinRequest{GroupID: 1, SensorID: 7},
		},
		{
			name: "stream",
			data: `{"cmd":"RQST_STREAM","sensorid":7,"rtypeid":2}`,
			want: StreamRequest{SensorID: 7, RTypeID: 2},
		},
		{
			name: "sensor stats",
			data: `{"cmd":"RQST_SENSOR_STATS","rtypeid":2,"start_ts":100,"end_ts":200}`,
			want: SensorStatsRequest{RTypeID: 2, StartTS: 100, EndTS: 200},
		},
		{
			name: "download",
			data: `{"cmd":"RQST_DOWNLOAD","sensorid":7,"groupid":1,"start_ts":100,"end_ts":200}`,
			want: DownloadRequest{SensorID: 7, GroupID: 1, StartTS: 100, EndTS: 200},
		},
		{
			name: "close",
			data: `{"cmd":"RQST_CLOSE","groupid":1,"sensorid":7}`,
			want: CloseRequest{GroupID: 1, SensorID: 7},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := Decode([]byte(tc.data))
			require.NoError(t, err)
			assert.Equal(t, tc.want, req)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	testCases := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"not json", `not json at all`, ErrMalformedMessage},
		{"missing cmd", `{"sensorid":7}`, ErrMalformedMessage},
		{"unknown cmd", `{"cmd":"RQST_SELFDESTRUCT"}`, ErrUnknownCommand},
		{"wrong field type", `{"cmd":"RQST_JOIN","groupid":"one"}`, ErrMalformedMessage},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestResponses_CmdLiterals(t *testing.T) {
	assert.Equal(t, "RESP_JOIN", NewJoinResponse(true).Cmd)
	assert.Equal(t, "RESP_STREAM", NewStreamResponse(nil).Cmd)
	assert.Equal(t, "RESP_READING", NewReadingResponse(types.Reading{}).Cmd)
	assert.Equal(t, "RESP_SENSOR_STATS", NewSensorStatsResponse(types.Stats{}).Cmd)
	assert.Equal(t, "RESP_DOWNLOAD", NewDownloadResponse(nil).Cmd)
	assert.Equal(t, "RESP_ERROR", NewErrorResponse("boom").Cmd)
	assert.Equal(t, "RESP_STATS_ERROR", NewStatsErrorResponse("boom").Cmd)
	assert.Equal(t, "RESP_DOWNLOAD_ERROR", NewDownloadErrorResponse("boom").Cmd)
}

func TestReadingResponse_SingleReading(t *testing.T) {
	r := types.Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 100, Val: 3.5}
	resp := NewReadingResponse(r)

	require.Len(t, resp.Readings, 1)
	assert.Equal(t, r, resp.Readings[0])

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cmd":"RESP_READING"`)
}

func TestStreamResponse_EmptySliceNotNull(t *testing.T) {
	data, err := json.Marshal(NewStreamResponse(nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"readings":[]`)
}
