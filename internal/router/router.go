// Package router decodes inbound viewer commands, validates them against the
// session state machine, dispatches to the registry and the store, and encodes
// the replies. Failures are reported on the error channel scoped to the
// triggering command so the viewer can route them to the right UI surface.
package router

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sensorhub/internal/metrics"
	"sensorhub/internal/protocol"
	"sensorhub/internal/registry"
	"sensorhub/internal/session"
	"sensorhub/pkg/interfaces"
)

// Router routes one decoded command at a time. The caller (the connection
// read loop) guarantees a single command in flight per session.
type Router struct {
	registry    *registry.Registry
	store       interfaces.Store
	limiter     *CommandLimiter
	numReadings int
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// New creates a router. numReadings is the size of the historical snapshot
// returned on stream selection.
func New(reg *registry.Registry, store interfaces.Store, numReadings int, log *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{
		registry:    reg,
		store:       store,
		limiter:     NewCommandLimiter(),
		numReadings: numReadings,
		log:         log,
		metrics:     m,
	}
}

// Handle processes one raw inbound message for sess. ctx is the connection
// context: it is cancelled on close or disconnect, which aborts any storage
// query still in flight.
func (r *Router) Handle(ctx context.Context, sess *session.Session, data []byte) {
	req, err := protocol.Decode(data)
	if err != nil {
		r.log.Debug("rejecting malformed message",
			zap.String("session", sess.ID()),
			zap.Error(err))
		r.send(sess, protocol.NewErrorResponse("malformed command"))
		return
	}
	r.metrics.Commands.WithLabelValues(req.Cmd()).Inc()

	if sess.State() == session.StateClosed {
		r.send(sess, protocol.NewErrorResponse("session is closed"))
		return
	}

	if !r.limiter.Allow(sess.ID()) {
		r.send(sess, protocol.NewErrorResponse("command rate limit exceeded"))
		return
	}

	switch req := req.(type) {
	case protocol.JoinRequest:
		r.handleJoin(ctx, sess, req)
	case protocol.StreamRequest:
		r.handleStream(ctx, sess, req)
	case protocol.SensorStatsRequest:
		r.handleSensorStats(ctx, sess, req)
	case protocol.DownloadRequest:
		r.handleDownload(ctx, sess, req)
	case protocol.CloseRequest:
		r.handleClose(sess)
	default:
		r.send(sess, protocol.NewErrorResponse("unsupported command"))
	}
}

// Teardown releases router and registry state for a session whose transport
// went away without a close command.
func (r *Router) Teardown(sess *session.Session) {
	r.registry.Unsubscribe(sess)
	r.limiter.Remove(sess.ID())
	_ = sess.Close()
}

// handleJoin validates the group/sensor scope against the store. Any failure,
// including a store outage, is reported as join_result=false: join rejection
// is recoverable by design and drives the client retry supervisor.
func (r *Router) handleJoin(ctx context.Context, sess *session.Session, req protocol.JoinRequest) {
	ok, err := r.store.SensorBelongsToGroup(ctx, req.GroupID, req.SensorID)
	if err != nil {
		r.log.Warn("membership check failed",
			zap.String("session", sess.ID()),
			zap.Int64("groupid", req.GroupID),
			zap.Int64("sensorid", req.SensorID),
			zap.Error(err))
		r.send(sess, protocol.NewJoinResponse(false))
		return
	}
	if !ok {
		r.send(sess, protocol.NewJoinResponse(false))
		return
	}

	if err := sess.Join(req.GroupID, req.SensorID); err != nil {
		r.send(sess, protocol.NewErrorResponse(err.Error()))
		return
	}
	r.send(sess, protocol.NewJoinResponse(true))
}

// handleStream re-subscribes the session, resets its statistics window, and
// replies with the most recent readings for the selected stream.
func (r *Router) handleStream(ctx context.Context, sess *session.Session, req protocol.StreamRequest) {
	if err := sess.BeginStream(req.SensorID, req.RTypeID); err != nil {
		r.send(sess, protocol.NewErrorResponse(err.Error()))
		return
	}

	groupID, _, _ := sess.Scope()
	key := registry.Key{
		GroupID:  groupID,
		SensorID: req.SensorID,
		RTypeID:  req.RTypeID,
	}

	// Subscribe only after the snapshot reply so the viewer always sees
	// RESP_STREAM before the first live RESP_READING.
	readings, err := r.store.Latest(ctx, req.SensorID, req.RTypeID, r.numReadings)
	if err != nil {
		r.log.Warn("snapshot fetch failed",
			zap.String("session", sess.ID()),
			zap.Int64("sensorid", req.SensorID),
			zap.Int64("rtypeid", req.RTypeID),
			zap.Error(err))
		// The live subscription still proceeds; only the snapshot is lost.
		r.registry.Subscribe(sess, key)
		r.send(sess, protocol.NewErrorResponse("unable to load recent readings"))
		return
	}
	r.send(sess, protocol.NewStreamResponse(readings))
	r.registry.Subscribe(sess, key)
}

// handleSensorStats answers a historical aggregate query over the joined
// sensor. The live accumulator is untouched.
func (r *Router) handleSensorStats(ctx context.Context, sess *session.Session, req protocol.SensorStatsRequest) {
	_, sensorID, joined := sess.Scope()
	if !joined {
		r.send(sess, protocol.NewErrorResponse("join before requesting statistics"))
		return
	}
	if req.StartTS >= req.EndTS {
		r.send(sess, protocol.NewStatsErrorResponse("invalid time range: start_ts must precede end_ts"))
		return
	}

	result, err := r.store.Aggregate(ctx, sensorID, req.RTypeID, req.StartTS, req.EndTS)
	if err != nil {
		if errors.Is(err, interfaces.ErrNoData) {
			r.send(sess, protocol.NewStatsErrorResponse("no readings in the requested range"))
			return
		}
		r.log.Warn("aggregate query failed",
			zap.String("session", sess.ID()),
			zap.Error(err))
		r.send(sess, protocol.NewStatsErrorResponse("statistics query failed"))
		return
	}
	r.send(sess, protocol.NewSensorStatsResponse(result))
}

// handleDownload exports the full reading set for the session's current
// stream over a closed time range. Errors stay on the download channel.
func (r *Router) handleDownload(ctx context.Context, sess *session.Session, req protocol.DownloadRequest) {
	groupID, sensorID, joined := sess.Scope()
	if !joined || sess.State() != session.StateStreaming {
		r.send(sess, protocol.NewErrorResponse("select a stream before downloading"))
		return
	}
	if req.StartTS >= req.EndTS {
		r.send(sess, protocol.NewDownloadErrorResponse("invalid time range: start_ts must precede end_ts"))
		return
	}
	if req.SensorID != sensorID || req.GroupID != groupID {
		r.send(sess, protocol.NewDownloadErrorResponse("sensor outside joined scope"))
		return
	}

	data, err := r.store.Range(ctx, req.SensorID, sess.RTypeID(), req.StartTS, req.EndTS)
	if err != nil {
		r.log.Warn("range query failed",
			zap.String("session", sess.ID()),
			zap.Error(err))
		r.send(sess, protocol.NewDownloadErrorResponse("download query failed"))
		return
	}
	r.send(sess, protocol.NewDownloadResponse(data))
}

// handleClose tears the session down. Idempotent: a second close command
// finds the session already unsubscribed and closed.
func (r *Router) handleClose(sess *session.Session) {
	r.Teardown(sess)
}

// send writes a reply, logging transport failures; the read loop notices the
// dead connection on its side.
func (r *Router) send(sess *session.Session, v interface{}) {
	if err := sess.Send(v); err != nil {
		r.log.Debug("reply write failed",
			zap.String("session", sess.ID()),
			zap.Error(err))
	}
}
