// Package registry maps subscription keys to the sessions watching them and
// fans incoming readings out to every interested viewer.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"sensorhub/internal/metrics"
	"sensorhub/internal/session"
	"sensorhub/pkg/types"
)

// Key is the (group, sensor, reading-type) tuple a session watches. A session
// is indexed under at most one key at a time.
type Key struct {
	GroupID  int64
	SensorID int64
	RTypeID  int64
}

// StreamID identifies the ingestion stream a reading arrives on. The group is
// not part of it: the ingestion path only knows sensor and reading type.
type StreamID struct {
	SensorID int64
	RTypeID  int64
}

// Stream returns the ingestion stream this key belongs to.
func (k Key) Stream() StreamID {
	return StreamID{SensorID: k.SensorID, RTypeID: k.RTypeID}
}

type sessionSet map[*session.Session]struct{}

// Registry owns the subscription index. Index mutation happens in single
// short critical sections; the lock is never held across a delivery to a
// session, which takes the session's own mutex.
type Registry struct {
	mu        sync.RWMutex
	subs      map[Key]sessionSet
	streams   map[StreamID]map[Key]struct{}
	bySession map[*session.Session]Key

	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates an empty registry.
func New(log *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		subs:      make(map[Key]sessionSet),
		streams:   make(map[StreamID]map[Key]struct{}),
		bySession: make(map[*session.Session]Key),
		log:       log,
		metrics:   m,
	}
}

// Subscribe indexes sess under key, removing any prior entry in the same
// critical section so a concurrent fan-out pass sees either the old or the
// new subscription, never both and never neither.
func (r *Registry) Subscribe(sess *session.Session, key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySession[sess]; ok {
		if prev == key {
			return
		}
		r.removeLocked(sess, prev)
	}

	set, ok := r.subs[key]
	if !ok {
		set = make(sessionSet)
		r.subs[key] = set
		stream := key.Stream()
		if r.streams[stream] == nil {
			r.streams[stream] = make(map[Key]struct{})
		}
		r.streams[stream][key] = struct{}{}
	}
	set[sess] = struct{}{}
	r.bySession[sess] = key
	r.metrics.Subscriptions.Set(float64(len(r.bySession)))
}

// Unsubscribe removes sess from whatever key it occupies. No-op when the
// session is not subscribed; safe to call repeatedly.
func (r *Registry) Unsubscribe(sess *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.bySession[sess]
	if !ok {
		return
	}
	r.removeLocked(sess, key)
	r.metrics.Subscriptions.Set(float64(len(r.bySession)))
}

// removeLocked deletes sess from the key's set and cleans up empty index
// entries. Caller holds the write lock.
func (r *Registry) removeLocked(sess *session.Session, key Key) {
	delete(r.bySession, sess)
	set, ok := r.subs[key]
	if !ok {
		return
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(r.subs, key)
		stream := key.Stream()
		if keys, ok := r.streams[stream]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(r.streams, stream)
			}
		}
	}
}

// SessionKey returns the key sess is currently indexed under.
func (r *Registry) SessionKey(sess *session.Session) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.bySession[sess]
	return key, ok
}

// Count returns how many sessions are subscribed under key.
func (r *Registry) Count(key Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[key])
}

// Len returns the total number of subscribed sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// Stats reports index sizes for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"subscribed_sessions": len(r.bySession),
		"active_keys":         len(r.subs),
		"active_streams":      len(r.streams),
	}
}

// Deliver is the ingestion boundary: it fans reading out to every session
// subscribed to the (sensor, reading-type) stream, across all group keys.
func (r *Registry) Deliver(sensorID, rtypeID int64, reading types.Reading) {
	stream := StreamID{SensorID: sensorID, RTypeID: rtypeID}

	r.mu.RLock()
	var targets []*session.Session
	for key := range r.streams[stream] {
		for sess := range r.subs[key] {
			targets = append(targets, sess)
		}
	}
	r.mu.RUnlock()

	r.deliver(targets, reading)
}

// Fanout delivers reading to every session subscribed under exactly key.
func (r *Registry) Fanout(key Key, reading types.Reading) {
	r.mu.RLock()
	targets := make([]*session.Session, 0, len(r.subs[key]))
	for sess := range r.subs[key] {
		targets = append(targets, sess)
	}
	r.mu.RUnlock()

	r.deliver(targets, reading)
}

// deliver pushes the reading to each target in turn. A session that fails is
// unsubscribed and closed; the failure never reaches the other sessions or
// the caller. Order across sessions is unspecified; order within one session
// follows ingestion order because each call completes under the session lock.
func (r *Registry) deliver(targets []*session.Session, reading types.Reading) {
	for _, sess := range targets {
		alerted, err := sess.Deliver(reading)
		if err != nil {
			r.log.Warn("dropping session after failed delivery",
				zap.String("session", sess.ID()),
				zap.Error(err))
			r.Unsubscribe(sess)
			_ = sess.Close()
			r.metrics.FanoutDropped.Inc()
			continue
		}
		r.metrics.FanoutDelivered.Inc()
		if alerted {
			r.metrics.Alerts.Inc()
		}
	}
}
