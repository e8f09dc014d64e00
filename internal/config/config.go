// Package config holds the system-wide settings and their load order:
// file over environment over defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Stream    *StreamConfig    `json:"stream"`
	Join      *JoinConfig      `json:"join"`
}

type DatabaseConfig struct {
	Path        string        `json:"path"`
	Timeout     time.Duration `json:"timeout"`
	WriteBuffer int           `json:"write_buffer"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// StreamConfig holds the fan-out and statistics tunables.
type StreamConfig struct {
	// NumReadings is the historical snapshot size on stream selection.
	NumReadings int `json:"num_readings"`
	// DeviationTolerance is the alert threshold fraction around the running
	// mean.
	DeviationTolerance float64 `json:"deviation_tolerance"`
	// IngestBuffer is the upload pipeline queue length.
	IngestBuffer int `json:"ingest_buffer"`
}

// JoinConfig holds the client retry discipline settings.
type JoinConfig struct {
	BaseDelay   time.Duration `json:"base_delay"`
	MaxAttempts int           `json:"max_attempts"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:        "./sensorhub.db",
			Timeout:     30 * time.Second,
			WriteBuffer: 100,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Stream: &StreamConfig{
			NumReadings:        100,
			DeviationTolerance: 0.15,
			IngestBuffer:       256,
		},
		Join: &JoinConfig{
			BaseDelay:   64 * time.Millisecond,
			MaxAttempts: 3,
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.WriteBuffer <= 0 {
		return fmt.Errorf("database write buffer must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Stream == nil {
		return fmt.Errorf("stream configuration is required")
	}
	if c.Stream.NumReadings <= 0 {
		return fmt.Errorf("stream num_readings must be positive")
	}
	if c.Stream.DeviationTolerance <= 0 {
		return fmt.Errorf("stream deviation tolerance must be positive")
	}
	if c.Stream.IngestBuffer <= 0 {
		return fmt.Errorf("stream ingest buffer must be positive")
	}

	if c.Join == nil {
		return fmt.Errorf("join configuration is required")
	}
	if c.Join.BaseDelay <= 0 {
		return fmt.Errorf("join base delay must be positive")
	}
	if c.Join.MaxAttempts <= 0 {
		return fmt.Errorf("join max attempts must be positive")
	}

	return nil
}

// LoadFromEnv returns the defaults with SENSORHUB_* environment overrides
// applied. Unparseable values fall back to the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("SENSORHUB_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("SENSORHUB_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("SENSORHUB_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if timeout := os.Getenv("SENSORHUB_DATABASE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Database.Timeout = d
		}
	}
	if timeout := os.Getenv("SENSORHUB_WEBSOCKET_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.WebSocket.WriteTimeout = d
		}
	}
	if size := os.Getenv("SENSORHUB_WEBSOCKET_BUFFER_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.WebSocket.BufferSize = n
		}
	}
	if n := os.Getenv("SENSORHUB_STREAM_NUM_READINGS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			config.Stream.NumReadings = v
		}
	}
	if tol := os.Getenv("SENSORHUB_STREAM_DEVIATION_TOLERANCE"); tol != "" {
		if v, err := strconv.ParseFloat(tol, 64); err == nil {
			config.Stream.DeviationTolerance = v
		}
	}
	if buffer := os.Getenv("SENSORHUB_STREAM_INGEST_BUFFER"); buffer != "" {
		if v, err := strconv.Atoi(buffer); err == nil {
			config.Stream.IngestBuffer = v
		}
	}
	if delay := os.Getenv("SENSORHUB_JOIN_BASE_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Join.BaseDelay = d
		}
	}
	if attempts := os.Getenv("SENSORHUB_JOIN_MAX_ATTEMPTS"); attempts != "" {
		if v, err := strconv.Atoi(attempts); err == nil {
			config.Join.MaxAttempts = v
		}
	}

	return config
}

// configFile mirrors Config with string durations so files stay readable.
type configFile struct {
	Database *struct {
		Path        string `json:"path"`
		Timeout     string `json:"timeout"`
		WriteBuffer int    `json:"write_buffer"`
	} `json:"database"`
	HTTP *struct {
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		Host         string `json:"host"`
	} `json:"http"`
	WebSocket *struct {
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Stream *struct {
		NumReadings        int     `json:"num_readings"`
		DeviationTolerance float64 `json:"deviation_tolerance"`
		IngestBuffer       int     `json:"ingest_buffer"`
	} `json:"stream"`
	Join *struct {
		BaseDelay   string `json:"base_delay"`
		MaxAttempts int    `json:"max_attempts"`
	} `json:"join"`
}

// LoadFromFile overlays a JSON file on the defaults and validates the result.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		if file.Database.WriteBuffer > 0 {
			config.Database.WriteBuffer = file.Database.WriteBuffer
		}
		if file.Database.Timeout != "" {
			if d, err := time.ParseDuration(file.Database.Timeout); err == nil {
				config.Database.Timeout = d
			}
		}
	}

	if file.HTTP != nil {
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.ReadTimeout != "" {
			if d, err := time.ParseDuration(file.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = d
			}
		}
		if file.HTTP.WriteTimeout != "" {
			if d, err := time.ParseDuration(file.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = d
			}
		}
	}

	if file.WebSocket != nil {
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
		if file.WebSocket.WriteTimeout != "" {
			if d, err := time.ParseDuration(file.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = d
			}
		}
	}

	if file.Stream != nil {
		if file.Stream.NumReadings > 0 {
			config.Stream.NumReadings = file.Stream.NumReadings
		}
		if file.Stream.DeviationTolerance > 0 {
			config.Stream.DeviationTolerance = file.Stream.DeviationTolerance
		}
		if file.Stream.IngestBuffer > 0 {
			config.Stream.IngestBuffer = file.Stream.IngestBuffer
		}
	}

	if file.Join != nil {
		if file.Join.MaxAttempts > 0 {
			config.Join.MaxAttempts = file.Join.MaxAttempts
		}
		if file.Join.BaseDelay != "" {
			if d, err := time.ParseDuration(file.Join.BaseDelay); err == nil {
				config.Join.BaseDelay = d
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// LoadWithPrecedence resolves the effective configuration: file over
// environment over defaults. A missing or broken file falls back silently to
// the environment layer.
func LoadWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}
	return config
}
