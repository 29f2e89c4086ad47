package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Relay     RelayConfig
	Upload    UploadConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	AllowedOrigins  []string              `mapstructure:"allowedOrigins"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int    `mapstructure:"maxPerIP"`
	Mode     string `mapstructure:"mode"` // "reject" or "cycle"
}

// TransportConfig converts directly to transport.ConnectionConfig; keep the
// two field lists in the same order.
type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"` // how long a ping waits for its pong
	SendBuffer   int           `mapstructure:"sendBuffer"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
}

type RelayConfig struct {
	DefaultRoom             string `mapstructure:"defaultRoom"`
	HistoryLimit            int    `mapstructure:"historyLimit"`
	QueueSize               int    `mapstructure:"queueSize"`
	FanoutWorkers           int    `mapstructure:"fanoutWorkers"`
	FanoutParallelThreshold int    `mapstructure:"fanoutParallelThreshold"`
	// RateLimit caps inbound events per connection, e.g. "20/s". Empty disables it.
	RateLimit        string `mapstructure:"rateLimit"`
	MaxMessageLength int    `mapstructure:"maxMessageLength"`
}

type UploadConfig struct {
	Dir               string   `mapstructure:"dir"`
	URLPrefix         string   `mapstructure:"urlPrefix"`
	MaxBytes          int64    `mapstructure:"maxBytes"`
	AllowedExtensions []string `mapstructure:"allowedExtensions"`
	InMemory          bool     `mapstructure:"inMemory"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
