package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/collabwire/collabwire/internal/collab"
)

// Transport selection values.
const (
	TransportWebSocket = "websocket"
	TransportMock      = "mock"
)

// FileConfig mirrors the JSON config layout. Durations are milliseconds.
type FileConfig struct {
	URL      string `json:"url"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`

	AutoReconnect        *bool `json:"autoReconnect"`
	MaxReconnectAttempts int   `json:"maxReconnectAttempts"`

	ReconnectBaseDelayMS int     `json:"reconnectBaseDelayMs"`
	ReconnectMaxDelayMS  int     `json:"reconnectMaxDelayMs"`
	ReconnectJitter      float64 `json:"reconnectJitter"`

	HeartbeatIntervalMS    int  `json:"heartbeatIntervalMs"`
	HeartbeatMissLimit     int  `json:"heartbeatMissLimit"`
	ForceCloseOnMissedPong bool `json:"forceCloseOnMissedPong"`

	ConnectTimeoutMS int `json:"connectTimeoutMs"`
	QueueCapacity    int `json:"queueCapacity"`

	Transport string `json:"transport"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Option    collab.Option
	Transport string
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}

	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	return Resolve(cfg)
}

// Resolve validates a file config and applies defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	transport := cfg.Transport
	if transport == "" {
		transport = TransportWebSocket
	}
	if transport != TransportWebSocket && transport != TransportMock {
		return Loaded{}, fmt.Errorf("unknown transport: %s", transport)
	}
	if transport == TransportWebSocket && cfg.URL == "" {
		return Loaded{}, fmt.Errorf("url is required for the websocket transport")
	}
	if cfg.UserID == "" {
		return Loaded{}, fmt.Errorf("userId is empty")
	}
	if cfg.ReconnectJitter < 0 || cfg.ReconnectJitter > 1 {
		return Loaded{}, fmt.Errorf("reconnectJitter must be within [0, 1]")
	}

	opt := collab.Option{
		URL:                    cfg.URL,
		UserID:                 cfg.UserID,
		UserName:               cfg.UserName,
		AutoReconnect:          true,
		MaxReconnectAttempts:   cfg.MaxReconnectAttempts,
		HeartbeatInterval:      time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond,
		HeartbeatMissLimit:     cfg.HeartbeatMissLimit,
		ForceCloseOnMissedPong: cfg.ForceCloseOnMissedPong,
		ConnectTimeout:         time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		QueueCapacity:          cfg.QueueCapacity,
	}
	if cfg.AutoReconnect != nil {
		opt.AutoReconnect = *cfg.AutoReconnect
	}

	backoff := collab.DefaultBackoff()
	if cfg.ReconnectBaseDelayMS > 0 {
		backoff.Min = time.Duration(cfg.ReconnectBaseDelayMS) * time.Millisecond
	}
	if cfg.ReconnectMaxDelayMS > 0 {
		backoff.Max = time.Duration(cfg.ReconnectMaxDelayMS) * time.Millisecond
	}
	if cfg.ReconnectJitter > 0 {
		backoff.Jitter = cfg.ReconnectJitter
	}
	opt.Backoff = backoff

	return Loaded{Option: opt, Transport: transport}, nil
}
