// Package client is the Go viewer client: a thin wire wrapper plus the join
// supervisor that retries rejected joins with randomized exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"sensorhub/internal/protocol"
	"sensorhub/pkg/types"
)

// Client speaks the viewer protocol over one websocket connection. It is not
// safe for concurrent use; the protocol itself is strictly request/response
// apart from live readings.
type Client struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

// Dial connects to a hub's websocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &Client{conn: conn, readTimeout: 10 * time.Second}, nil
}

// Message is one decoded server message.
type Message struct {
	Cmd      string          `json:"cmd"`
	Result   bool            `json:"join_result"`
	Readings []types.Reading `json:"readings"`
	Stats    types.Stats     `json:"stats"`
	Data     []types.Reading `json:"data"`
	Error    string          `json:"error"`
}

// Next reads one server message. Live readings arrive through here between
// command responses.
func (c *Client) Next(ctx context.Context) (Message, error) {
	deadline := time.Now().Add(c.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Message{}, err
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("failed to read message: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}

func (c *Client) send(v interface{}) error {
	return c.conn.WriteJSON(v)
}

// waitFor reads until a message with one of the wanted cmd literals arrives,
// skipping interleaved live readings.
func (c *Client) waitFor(ctx context.Context, cmds ...string) (Message, error) {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return Message{}, err
		}
		for _, cmd := range cmds {
			if msg.Cmd == cmd {
				return msg, nil
			}
		}
		if msg.Cmd == protocol.RespReading {
			continue
		}
		return Message{}, fmt.Errorf("%w: got %s", ErrUnexpectedResponse, msg.Cmd)
	}
}

// Join issues one join attempt. accepted=false with a nil error is the
// recoverable rejection the supervisor retries on.
func (c *Client) Join(ctx context.Context, groupID, sensorID int64) (bool, error) {
	if err := c.send(map[string]interface{}{
		"cmd": protocol.CmdJoin, "groupid": groupID, "sensorid": sensorID,
	}); err != nil {
		return false, fmt.Errorf("failed to send join: %w", err)
	}
	msg, err := c.waitFor(ctx, protocol.RespJoin)
	if err != nil {
		return false, err
	}
	return msg.Result, nil
}

// Stream selects a live stream and returns the historical snapshot.
func (c *Client) Stream(ctx context.Context, sensorID, rtypeID int64) ([]types.Reading, error) {
	if err := c.send(map[string]interface{}{
		"cmd": protocol.CmdStream, "sensorid": sensorID, "rtypeid": rtypeID,
	}); err != nil {
		return nil, fmt.Errorf("failed to send stream request: %w", err)
	}
	msg, err := c.waitFor(ctx, protocol.RespStream, protocol.RespError)
	if err != nil {
		return nil, err
	}
	if msg.Cmd == protocol.RespError {
		return nil, fmt.Errorf("%w: %s", ErrServerRejected, msg.Error)
	}
	return msg.Readings, nil
}

// SensorStats queries historical aggregates for the joined sensor.
func (c *Client) SensorStats(ctx context.Context, rtypeID, startTS, endTS int64) (types.Stats, error) {
	if err := c.send(map[string]interface{}{
		"cmd": protocol.CmdSensorStats, "rtypeid": rtypeID, "start_ts": startTS, "end_ts": endTS,
	}); err != nil {
		return types.Stats{}, fmt.Errorf("failed to send stats request: %w", err)
	}
	msg, err := c.waitFor(ctx, protocol.RespSensorStats, protocol.RespStatsError)
	if err != nil {
		return types.Stats{}, err
	}
	if msg.Cmd == protocol.RespStatsError {
		return types.Stats{}, fmt.Errorf("%w: %s", ErrServerRejected, msg.Error)
	}
	return msg.Stats, nil
}

// Download exports the readings for the current stream over a time range.
func (c *Client) Download(ctx context.Context, groupID, sensorID, startTS, endTS int64) ([]types.Reading, error) {
	if err := c.send(map[string]interface{}{
		"cmd": protocol.CmdDownload, "groupid": groupID, "sensorid": sensorID,
		"start_ts": startTS, "end_ts": endTS,
	}); err != nil {
		return nil, fmt.Errorf("failed to send download request: %w", err)
	}
	msg, err := c.waitFor(ctx, protocol.RespDownload, protocol.RespDownloadError)
	if err != nil {
		return nil, err
	}
	if msg.Cmd == protocol.RespDownloadError {
		return nil, fmt.Errorf("%w: %s", ErrServerRejected, msg.Error)
	}
	return msg.Data, nil
}

// Close sends the close command and shuts the transport.
func (c *Client) Close() error {
	_ = c.send(map[string]interface{}{"cmd": protocol.CmdClose})
	return c.conn.Close()
}
