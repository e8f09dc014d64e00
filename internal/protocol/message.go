// Package protocol defines the wire messages exchanged with viewers. Every
// message is a JSON object with a cmd discriminator; inbound messages decode
// into a closed command union so the router can match exhaustively instead of
// dispatching on raw strings.
package protocol

import (
	"encoding/json"
	"fmt"

	"sensorhub/pkg/types"
)

// Inbound command literals.
const (
	CmdJoin        = "RQST_JOIN"
	CmdStream      = "RQST_STREAM"
	CmdSensorStats = "RQST_SENSOR_STATS"
	CmdDownload    = "RQST_DOWNLOAD"
	CmdClose       = "RQST_CLOSE"
)

// Outbound response literals.
const (
	RespJoin          = "RESP_JOIN"
	RespStream        = "RESP_STREAM"
	RespReading       = "RESP_READING"
	RespSensorStats   = "RESP_SENSOR_STATS"
	RespDownload      = "RESP_DOWNLOAD"
	RespError         = "RESP_ERROR"
	RespStatsError    = "RESP_STATS_ERROR"
	RespDownloadError = "RESP_DOWNLOAD_ERROR"
)

// Request is the closed union of inbound commands.
type Request interface {
	Cmd() string
}

type JoinRequest struct {
	GroupID  int64 `json:"groupid"`
	SensorID int64 `json:"sensorid"`
}

type StreamRequest struct {
	SensorID int64 `json:"sensorid"`
	RTypeID  int64 `json:"rtypeid"`
}

type SensorStatsRequest struct {
	RTypeID int64 `json:"rtypeid"`
	StartTS int64 `json:"start_ts"`
	EndTS   int64 `json:"end_ts"`
}

type DownloadRequest struct {
	SensorID int64 `json:"sensorid"`
	GroupID  int64 `json:"groupid"`
	StartTS  int64 `json:"start_ts"`
	EndTS    int64 `json:"end_ts"`
}

type CloseRequest struct {
	GroupID  int64 `json:"groupid"`
	SensorID int64 `json:"sensorid"`
}

func (JoinRequest) Cmd() string        { return CmdJoin }
func (StreamRequest) Cmd() string      { return CmdStream }
func (SensorStatsRequest) Cmd() string { return CmdSensorStats }
func (DownloadRequest) Cmd() string    { return CmdDownload }
func (CloseRequest) Cmd() string       { return CmdClose }

type envelope struct {
	Cmd string `json:"cmd"`
}

// Decode parses one inbound message into its command variant. A missing or
// unknown cmd, or a body that does not parse, yields an error the router
// reports on the generic channel.
func Decode(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Cmd == "" {
		return nil, fmt.Errorf("%w: missing cmd", ErrMalformedMessage)
	}

	switch env.Cmd {
	case CmdJoin:
		var req JoinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return req, nil
	case CmdStream:
		var req StreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return req, nil
	case CmdSensorStats:
		var req SensorStatsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return req, nil
	case CmdDownload:
		var req DownloadRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return req, nil
	case CmdClose:
		var req CloseRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return req, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Cmd)
	}
}

// Outbound responses. Constructors fill in the cmd discriminator so handlers
// cannot send a payload under the wrong literal.

type JoinResponse struct {
	Cmd        string `json:"cmd"`
	JoinResult bool   `json:"join_result"`
}

func NewJoinResponse(accepted bool) JoinResponse {
	return JoinResponse{Cmd: RespJoin, JoinResult: accepted}
}

type StreamResponse struct {
	Cmd      string          `json:"cmd"`
	Readings []types.Reading `json:"readings"`
}

func NewStreamResponse(readings []types.Reading) StreamResponse {
	if readings == nil {
		readings = []types.Reading{}
	}
	return StreamResponse{Cmd: RespStream, Readings: readings}
}

// ReadingResponse carries exactly one live reading.
type ReadingResponse struct {
	Cmd      string          `json:"cmd"`
	Readings []types.Reading `json:"readings"`
}

func NewReadingResponse(r types.Reading) ReadingResponse {
	return ReadingResponse{Cmd: RespReading, Readings: []types.Reading{r}}
}

type SensorStatsResponse struct {
	Cmd   string      `json:"cmd"`
	Stats types.Stats `json:"stats"`
}

func NewSensorStatsResponse(s types.Stats) SensorStatsResponse {
	return SensorStatsResponse{Cmd: RespSensorStats, Stats: s}
}

type DownloadResponse struct {
	Cmd  string          `json:"cmd"`
	Data []types.Reading `json:"data"`
}

func NewDownloadResponse(data []types.Reading) DownloadResponse {
	if data == nil {
		data = []types.Reading{}
	}
	return DownloadResponse{Cmd: RespDownload, Data: data}
}

// ErrorResponse is shared by the three scoped error channels; the cmd literal
// tells the viewer which UI surface the message belongs to.
type ErrorResponse struct {
	Cmd   string `json:"cmd"`
	Error string `json:"error"`
}

func NewErrorResponse(msg string) ErrorResponse {
	return ErrorResponse{Cmd: RespError, Error: msg}
}

func NewStatsErrorResponse(msg string) ErrorResponse {
	return ErrorResponse{Cmd: RespStatsError, Error: msg}
}

func NewDownloadErrorResponse(msg string) ErrorResponse {
	return ErrorResponse{Cmd: RespDownloadError, Error: msg}
}
