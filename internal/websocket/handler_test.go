package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sensorhub/internal/metrics"
	"sensorhub/internal/registry"
	"sensorhub/internal/router"
	"sensorhub/pkg/types"
)

// stubStore serves a fixed catalog: sensor 7 in group 1 with a two-reading
// history.
type stubStore struct{}

func (stubStore) Latest(ctx context.Context, sensorID, rtypeID int64, n int) ([]types.Reading, error) {
	return []types.Reading{
		{SensorID: sensorID, GroupID: 1, RTypeID: rtypeID, TS: 10, Val: 20.5},
		{SensorID: sensorID, GroupID: 1, RTypeID: rtypeID, TS: 20, Val: 21.0},
	}, nil
}

func (stubStore) Range(ctx context.Context, sensorID, rtypeID, start, end int64) ([]types.Reading, error) {
	return nil, nil
}

func (stubStore) Aggregate(ctx context.Context, sensorID, rtypeID, start, end int64) (types.Stats, error) {
	return types.Stats{Avg: 20.75, Min: 20.5, Max: 21.0}, nil
}

func (stubStore) SensorBelongsToGroup(ctx context.Context, groupID, sensorID int64) (bool, error) {
	return groupID == 1 && sensorID == 7, nil
}

func (stubStore) InsertReading(ctx context.Context, r types.Reading) error      { return nil }
func (stubStore) ListGroups(ctx context.Context) ([]types.Group, error)         { return nil, nil }
func (stubStore) ListSensors(ctx context.Context, g int64) ([]types.Sensor, error) {
	return nil, nil
}
func (stubStore) ListRTypes(ctx context.Context) ([]types.RType, error) { return nil, nil }
func (stubStore) HealthCheck(ctx context.Context) error                 { return nil }
func (stubStore) Close() error                                          { return nil }

type testServer struct {
	srv *httptest.Server
	reg *registry.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	reg := registry.New(zap.NewNop(), m)
	rt := router.New(reg, stubStore{}, 100, zap.NewNop(), m)
	h := NewHandler(rt, Options{
		DeviationTolerance: 0.15,
		WriteTimeout:       2 * time.Second,
		WriteBuffer:        16,
	}, zap.NewNop(), m)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, reg: reg}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readResponse(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func cmdOf(t *testing.T, msg map[string]json.RawMessage) string {
	t.Helper()
	var cmd string
	require.NoError(t, json.Unmarshal(msg["cmd"], &cmd))
	return cmd
}

func TestHandler_JoinOverWire(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"cmd": "RQST_JOIN", "groupid": 1, "sensorid": 7,
	}))

	msg := readResponse(t, conn)
	assert.Equal(t, "RESP_JOIN", cmdOf(t, msg))

	var accepted bool
	require.NoError(t, json.Unmarshal(msg["join_result"], &accepted))
	assert.True(t, accepted)
}

func TestHandler_JoinUnknownSensorOverWire(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"cmd": "RQST_JOIN", "groupid": 1, "sensorid": 99,
	}))

	msg := readResponse(t, conn)
	assert.Equal(t, "RESP_JOIN", cmdOf(t, msg))

	var accepted bool
	require.NoError(t, json.Unmarshal(msg["join_result"], &accepted))
	assert.False(t, accepted)
}

func TestHandler_StreamAndLiveDelivery(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"cmd": "RQST_JOIN", "groupid": 1, "sensorid": 7,
	}))
	readResponse(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"cmd": "RQST_STREAM", "sensorid": 7, "rtypeid": 2,
	}))
	msg := readResponse(t, conn)
	require.Equal(t, "RESP_STREAM", cmdOf(t, msg))

	var snapshot []types.Reading
	require.NoError(t, json.Unmarshal(msg["readings"], &snapshot))
	assert.Len(t, snapshot, 2)

	// The subscription registers asynchronously from the test's point of
	// view; wait until the read loop has processed the stream command.
	require.Eventually(t, func() bool {
		return ts.reg.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ts.reg.Deliver(7, 2, types.Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 30, Val: 21.5})

	msg = readResponse(t, conn)
	require.Equal(t, "RESP_READING", cmdOf(t, msg))
	var live []types.Reading
	require.NoError(t, json.Unmarshal(msg["readings"], &live))
	require.Len(t, live, 1)
	assert.Equal(t, 21.5, live[0].Val)
}

func TestHandler_SensorStatsOverWire(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"cmd": "RQST_JOIN", "groupid": 1, "sensorid": 7,
	}))
	readResponse(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"cmd": "RQST_SENSOR_STATS", "rtypeid": 2, "start_ts": 1, "end_ts": 100,
	}))

	msg := readResponse(t, conn)
	require.Equal(t, "RESP_SENSOR_STATS", cmdOf(t, msg))

	var stats types.Stats
	require.NoError(t, json.Unmarshal(msg["stats"], &stats))
	assert.Equal(t, 20.75, stats.Avg)
}

func TestHandler_DisconnectCleansUpSubscription(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"cmd": "RQST_JOIN", "groupid": 1, "sensorid": 7,
	}))
	readResponse(t, conn)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"cmd": "RQST_STREAM", "sensorid": 7, "rtypeid": 2,
	}))
	readResponse(t, conn)
	require.Eventually(t, func() bool { return ts.reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return ts.reg.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "abrupt disconnect must unsubscribe the session")
}

func TestConnection_WriteAfterCloseFails(t *testing.T) {
	// Exercise the wrapper directly against a live socket pair.
	upgraded := make(chan *Connection, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/raw", func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		upgraded <- NewConnection(raw, time.Second, 4)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/raw"
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = peer.Close() }()

	conn := <-upgraded
	require.NoError(t, conn.WriteJSON(map[string]string{"hello": "world"}))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close must be idempotent")

	err = conn.WriteJSON(map[string]string{"hello": "again"})
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
