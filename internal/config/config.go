package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings tree. Each section maps to one subsystem
// so the application layer can hand sub-configs down without re-slicing.
type Config struct {
	Directory *DirectoryConfig `json:"directory"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Room      *RoomConfig      `json:"room"`
}

type DirectoryConfig struct {
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// RoomConfig tunes the per-room actors. QueueSize bounds each room's command
// queue; the watchdog settings control the optional deadline enforcement that
// force-submits participants once the exam window lapses.
type RoomConfig struct {
	QueueSize        int  `json:"queue_size"`
	AutoForceSubmit  bool `json:"auto_force_submit"`
	WatchdogInterval int  `json:"watchdog_interval_seconds"`
}

// DefaultConfig returns production-ready defaults: a local SQLite directory,
// HTTP on 8080, a 30s heartbeat, and deadline enforcement left to proctors.
func DefaultConfig() *Config {
	return &Config{
		Directory: &DirectoryConfig{
			Path:            "./examroom.db",
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Room: &RoomConfig{
			QueueSize:        256,
			AutoForceSubmit:  false,
			WatchdogInterval: 5,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Directory == nil {
		return fmt.Errorf("directory configuration is required")
	}

	if c.Directory.Path == "" {
		return fmt.Errorf("directory database path cannot be empty")
	}

	if c.Directory.MaxConnections <= 0 {
		return fmt.Errorf("directory max connections must be positive")
	}

	if c.Directory.ConnMaxLifetime <= 0 {
		return fmt.Errorf("directory connection lifetime must be positive")
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

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}

	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Room == nil {
		return fmt.Errorf("room configuration is required")
	}

	if c.Room.QueueSize <= 0 {
		return fmt.Errorf("room queue size must be positive")
	}

	if c.Room.AutoForceSubmit && c.Room.WatchdogInterval <= 0 {
		return fmt.Errorf("room watchdog interval must be positive when auto force-submit is enabled")
	}

	return nil
}

// LoadFromEnv reads EXAMROOM_* environment variables over the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("EXAMROOM_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("EXAMROOM_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if readTimeout := os.Getenv("EXAMROOM_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}

	if writeTimeout := os.Getenv("EXAMROOM_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if dbPath := os.Getenv("EXAMROOM_DIRECTORY_PATH"); dbPath != "" {
		config.Directory.Path = dbPath
	}

	if maxConns := os.Getenv("EXAMROOM_DIRECTORY_MAX_CONNECTIONS"); maxConns != "" {
		if n, err := strconv.Atoi(maxConns); err == nil {
			config.Directory.MaxConnections = n
		}
	}

	if lifetime := os.Getenv("EXAMROOM_DIRECTORY_CONN_LIFETIME"); lifetime != "" {
		if d, err := time.ParseDuration(lifetime); err == nil {
			config.Directory.ConnMaxLifetime = d
		}
	}

	if pingInterval := os.Getenv("EXAMROOM_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}

	if wsReadTimeout := os.Getenv("EXAMROOM_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}

	if wsWriteTimeout := os.Getenv("EXAMROOM_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}

	if bufferSize := os.Getenv("EXAMROOM_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if queueSize := os.Getenv("EXAMROOM_ROOM_QUEUE_SIZE"); queueSize != "" {
		if size, err := strconv.Atoi(queueSize); err == nil {
			config.Room.QueueSize = size
		}
	}

	if auto := os.Getenv("EXAMROOM_ROOM_AUTO_FORCE_SUBMIT"); auto != "" {
		if b, err := strconv.ParseBool(auto); err == nil {
			config.Room.AutoForceSubmit = b
		}
	}

	if interval := os.Getenv("EXAMROOM_ROOM_WATCHDOG_INTERVAL"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil {
			config.Room.WatchdogInterval = n
		}
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing, with durations as strings.
type ConfigFile struct {
	Directory *DirectoryConfigFile `json:"directory"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Room      *RoomConfigFile      `json:"room"`
}

type DirectoryConfigFile struct {
	Path            string `json:"path"`
	MaxConnections  int    `json:"max_connections"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type RoomConfigFile struct {
	QueueSize        int   `json:"queue_size"`
	AutoForceSubmit  *bool `json:"auto_force_submit"`
	WatchdogInterval int   `json:"watchdog_interval_seconds"`
}

// LoadFromFile reads a JSON configuration file over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Directory != nil {
		if configFile.Directory.Path != "" {
			config.Directory.Path = configFile.Directory.Path
		}
		if configFile.Directory.MaxConnections > 0 {
			config.Directory.MaxConnections = configFile.Directory.MaxConnections
		}
		if configFile.Directory.ConnMaxLifetime != "" {
			if d, err := time.ParseDuration(configFile.Directory.ConnMaxLifetime); err == nil {
				config.Directory.ConnMaxLifetime = d
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = timeout
			}
		}
	}

	if configFile.Room != nil {
		if configFile.Room.QueueSize > 0 {
			config.Room.QueueSize = configFile.Room.QueueSize
		}
		if configFile.Room.AutoForceSubmit != nil {
			config.Room.AutoForceSubmit = *configFile.Room.AutoForceSubmit
		}
		if configFile.Room.WatchdogInterval > 0 {
			config.Room.WatchdogInterval = configFile.Room.WatchdogInterval
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. File errors are ignored so environment and defaults still apply.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
