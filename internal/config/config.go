package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/battery.report/internal/hbi"
)

// Defaults applied by the Get* accessors when a field is omitted.
const (
	DefaultReceiveBuffer = 1 << 16
	DefaultNotifyTitle   = "Headset Battery Info"
	DefaultStatsInterval = time.Minute
	DefaultTickInterval  = time.Second
	DefaultHTTPListen    = ":8093"
	DefaultHistoryBuffer = 256
)

// maxFileSize bounds config files read from disk.
const maxFileSize = 1 * 1024 * 1024

// ServiceConfig is the JSON configuration of the hbi daemon. Every field is
// optional; omitted fields fall back to the defaults above.
type ServiceConfig struct {
	// Telemetry socket
	ListenPort     *int    `json:"listen_port,omitempty"`
	ReceiveBuffer  *int    `json:"receive_buffer,omitempty"`
	RequestAddress *string `json:"request_address,omitempty"`
	RequestMessage *string `json:"request_message,omitempty"`
	NotifyTitle    *string `json:"notify_title,omitempty"`

	// Intervals, as duration strings like "1s"
	StatsInterval *string `json:"stats_interval,omitempty"`
	TickInterval  *string `json:"tick_interval,omitempty"`

	// Servers; an empty grpc_listen disables the health service
	HTTPListen *string `json:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`

	// Reading history; an empty history_db disables it
	HistoryDB     *string `json:"history_db,omitempty"`
	HistoryBuffer *int    `json:"history_buffer,omitempty"`

	IconsDir *string `json:"icons_dir,omitempty"`
}

// Load reads a ServiceConfig from a .json file of at most 1MB and validates it.
func Load(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ServiceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *ServiceConfig) Validate() error {
	if c.ListenPort != nil && (*c.ListenPort < 0 || *c.ListenPort > 65535) {
		return fmt.Errorf("listen_port must be between 0 and 65535, got %d", *c.ListenPort)
	}
	if c.ReceiveBuffer != nil && *c.ReceiveBuffer < 0 {
		return fmt.Errorf("receive_buffer must be non-negative, got %d", *c.ReceiveBuffer)
	}
	if c.RequestAddress != nil && *c.RequestAddress != "" {
		if _, _, err := net.SplitHostPort(*c.RequestAddress); err != nil {
			return fmt.Errorf("invalid request_address '%s': %w", *c.RequestAddress, err)
		}
	}
	for name, v := range map[string]*string{
		"stats_interval": c.StatsInterval,
		"tick_interval":  c.TickInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}
	if c.HistoryBuffer != nil && *c.HistoryBuffer <= 0 {
		return fmt.Errorf("history_buffer must be positive, got %d", *c.HistoryBuffer)
	}
	return nil
}

// GetListenPort returns the UDP port telemetry is received on.
func (c *ServiceConfig) GetListenPort() int {
	if c.ListenPort == nil {
		return hbi.ListenPort
	}
	return *c.ListenPort
}

// GetListenAddress is the bind address for the telemetry socket.
func (c *ServiceConfig) GetListenAddress() string {
	return fmt.Sprintf(":%d", c.GetListenPort())
}

func (c *ServiceConfig) GetReceiveBuffer() int {
	if c.ReceiveBuffer == nil {
		return DefaultReceiveBuffer
	}
	return *c.ReceiveBuffer
}

func (c *ServiceConfig) GetRequestAddress() string {
	if c.RequestAddress == nil || *c.RequestAddress == "" {
		return fmt.Sprintf("127.0.0.1:%d", hbi.RequestPort)
	}
	return *c.RequestAddress
}

func (c *ServiceConfig) GetRequestMessage() string {
	if c.RequestMessage == nil || *c.RequestMessage == "" {
		return hbi.RequestUpdateMessage
	}
	return *c.RequestMessage
}

func (c *ServiceConfig) GetNotifyTitle() string {
	if c.NotifyTitle == nil || *c.NotifyTitle == "" {
		return DefaultNotifyTitle
	}
	return *c.NotifyTitle
}

// GetStatsInterval parses stats_interval, falling back to the default.
func (c *ServiceConfig) GetStatsInterval() time.Duration {
	return parseDuration(c.StatsInterval, DefaultStatsInterval)
}

// GetTickInterval parses tick_interval, falling back to the default.
func (c *ServiceConfig) GetTickInterval() time.Duration {
	return parseDuration(c.TickInterval, DefaultTickInterval)
}

func (c *ServiceConfig) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return DefaultHTTPListen
	}
	return *c.HTTPListen
}

func (c *ServiceConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

func (c *ServiceConfig) GetHistoryDB() string {
	if c.HistoryDB == nil {
		return ""
	}
	return *c.HistoryDB
}

func (c *ServiceConfig) GetHistoryBuffer() int {
	if c.HistoryBuffer == nil {
		return DefaultHistoryBuffer
	}
	return *c.HistoryBuffer
}

func (c *ServiceConfig) GetIconsDir() string {
	if c.IconsDir == nil {
		return ""
	}
	return *c.IconsDir
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
