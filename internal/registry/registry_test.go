package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sensorhub/internal/metrics"
	"sensorhub/internal/protocol"
	"sensorhub/internal/session"
	"sensorhub/pkg/types"
)

type fakeConn struct {
	mu       sync.Mutex
	writes   []interface{}
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) readings() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var vals []float64
	for _, w := range c.writes {
		if resp, ok := w.(protocol.ReadingResponse); ok {
			vals = append(vals, resp.Readings[0].Val)
		}
	}
	return vals
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(zap.NewNop(), metrics.New(prometheus.NewRegistry()))
}

func newStreamingSession(t *testing.T, id string, conn session.Conn, key Key) *session.Session {
	t.Helper()
	s := session.New(id, conn, 0.15)
	require.NoError(t, s.Join(key.GroupID, key.SensorID))
	require.NoError(t, s.BeginStream(key.SensorID, key.RTypeID))
	return s
}

func TestRegistry_SubscribeUnsubscribe(t *testing.T) {
	r := newRegistry(t)
	key := Key{GroupID: 1, SensorID: 7, RTypeID: 2}
	s := newStreamingSession(t, "s1", &fakeConn{}, key)

	r.Subscribe(s, key)
	assert.Equal(t, 1, r.Count(key))

	r.Unsubscribe(s)
	assert.Equal(t, 0, r.Count(key))
	assert.Equal(t, 0, r.Len())

	// Safe to call twice.
	r.Unsubscribe(s)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ResubscribeMovesAtomically(t *testing.T) {
	r := newRegistry(t)
	oldKey := Key{GroupID: 1, SensorID: 7, RTypeID: 2}
	newKey := Key{GroupID: 1, SensorID: 7, RTypeID: 3}
	s := newStreamingSession(t, "s1", &fakeConn{}, oldKey)

	r.Subscribe(s, oldKey)
	r.Subscribe(s, newKey)

	assert.Equal(t, 0, r.Count(oldKey), "old index entry must be removed")
	assert.Equal(t, 1, r.Count(newKey))
	assert.Equal(t, 1, r.Len(), "a session occupies at most one key")

	got, ok := r.SessionKey(s)
	require.True(t, ok)
	assert.Equal(t, newKey, got)
}

func TestRegistry_SubscribeSameKeyIdempotent(t *testing.T) {
	r := newRegistry(t)
	key := Key{GroupID: 1, SensorID: 7, RTypeID: 2}
	s := newStreamingSession(t, "s1", &fakeConn{}, key)

	r.Subscribe(s, key)
	r.Subscribe(s, key)
	assert.Equal(t, 1, r.Count(key))
}

func TestRegistry_FanoutMatchesExactStream(t *testing.T) {
	r := newRegistry(t)
	tempKey := Key{GroupID: 1, SensorID: 7, RTypeID: 2}
	humidKey := Key{GroupID: 1, SensorID: 7, RTypeID: 3}

	tempConn := &fakeConn{}
	humidConn := &fakeConn{}
	tempSess := newStreamingSession(t, "temp", tempConn, tempKey)
	humidSess := newStreamingSession(t, "humid", humidConn, humidKey)
	r.Subscribe(tempSess, tempKey)
	r.Subscribe(humidSess, humidKey)

	r.Deliver(7, 2, types.Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 1, Val: 21.5})

	assert.Equal(t, []float64{21.5}, tempConn.readings())
	assert.Empty(t, humidConn.readings(), "other reading types must not receive the fan-out")
}

func TestRegistry_FanoutIsolatesFailures(t *testing.T) {
	r := newRegistry(t)
	key := Key{GroupID: 1, SensorID: 7, RTypeID: 2}

	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{}
	}
	conns[2].writeErr = errors.New("broken transport")

	for i, conn := range conns {
		s := newStreamingSession(t, string(rune('a'+i)), conn, key)
		r.Subscribe(s, key)
	}
	require.Equal(t, 5, r.Count(key))

	r.Fanout(key, types.Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 1, Val: 1})

	for i, conn := range conns {
		if i == 2 {
			assert.Empty(t, conn.readings())
			assert.True(t, conn.closed, "failed session must be closed")
			continue
		}
		assert.Equal(t, []float64{1}, conn.readings(), "delivery to session %d", i)
	}
	assert.Equal(t, 4, r.Count(key), "failed session must be unsubscribed")
}

func TestRegistry_FIFOWithinSession(t *testing.T) {
	r := newRegistry(t)
	key := Key{GroupID: 1, SensorID: 7, RTypeID: 2}
	conn := &fakeConn{}
	s := newStreamingSession(t, "s1", conn, key)
	r.Subscribe(s, key)

	for i := 1; i <= 50; i++ {
		r.Deliver(7, 2, types.Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: int64(i), Val: float64(i)})
	}

	vals := conn.readings()
	require.Len(t, vals, 50)
	for i, v := range vals {
		assert.Equal(t, float64(i+1), v, "delivery order must match ingestion order")
	}
}

func TestRegistry_StaleIndexEntryDoesNotLeakOldStream(t *testing.T) {
	r := newRegistry(t)
	oldKey := Key{GroupID: 1, SensorID: 7, RTypeID: 2}
	conn := &fakeConn{}
	s := newStreamingSession(t, "s1", conn, oldKey)
	r.Subscribe(s, oldKey)

	// The session has switched streams but is still indexed under the old
	// key; a fan-out for the old stream lands in that window.
	require.NoError(t, s.BeginStream(7, 3))
	r.Deliver(7, 2, types.Reading{SensorID: 7, GroupID: 1, RTypeID: 2, TS: 1, Val: 42})

	assert.Empty(t, conn.readings(), "old-stream reading must not reach the switched session")
	count, _, _, _ := s.StatsSnapshot()
	assert.Equal(t, int64(0), count, "the fresh window must stay empty")
}

func TestRegistry_DeliverToUnsubscribedStreamIsNoop(t *testing.T) {
	r := newRegistry(t)
	r.Deliver(99, 99, types.Reading{SensorID: 99, RTypeID: 99, TS: 1, Val: 1})
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Stats(t *testing.T) {
	r := newRegistry(t)
	key := Key{GroupID: 1, SensorID: 7, RTypeID: 2}
	s := newStreamingSession(t, "s1", &fakeConn{}, key)
	r.Subscribe(s, key)

	stats := r.Stats()
	assert.Equal(t, 1, stats["subscribed_sessions"])
	assert.Equal(t, 1, stats["active_keys"])
	assert.Equal(t, 1, stats["active_streams"])
}
