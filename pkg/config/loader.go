package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables. The file is
// looked up by base name in paths, or the working directory when none are given.
func Load(logger *slog.Logger, fileName string, paths ...string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.allowedOrigins", []string{"localhost:5173"})
	v.SetDefault("server.connectionLimit.maxPerIP", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.pingInterval", "25s")
	v.SetDefault("relay.defaultRoom", "global")
	v.SetDefault("relay.historyLimit", 100)
	v.SetDefault("relay.queueSize", 1024)
	v.SetDefault("relay.fanoutWorkers", 8)
	v.SetDefault("relay.fanoutParallelThreshold", 32)
	v.SetDefault("relay.rateLimit", "")
	v.SetDefault("relay.maxMessageLength", 4000)
	v.SetDefault("upload.dir", "public/uploads")
	v.SetDefault("upload.urlPrefix", "/uploads/")
	v.SetDefault("upload.maxBytes", 5*1024*1024)
	v.SetDefault("upload.allowedExtensions", []string{".jpeg", ".jpg", ".png", ".gif"})
	v.SetDefault("upload.inMemory", false)
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "text")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."} // look for config in the working directory
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix("GORELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.Int("historyLimit", cfg.Relay.HistoryLimit),
		slog.String("defaultRoom", cfg.Relay.DefaultRoom),
	)
	return &cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("invalid connection limit mode '%s': expected 'reject' or 'cycle'", c.Server.ConnectionLimit.Mode)
	}
	if c.Relay.HistoryLimit <= 0 {
		return fmt.Errorf("relay.historyLimit must be positive, got %d", c.Relay.HistoryLimit)
	}
	if c.Relay.QueueSize <= 0 {
		return fmt.Errorf("relay.queueSize must be positive, got %d", c.Relay.QueueSize)
	}
	if c.Relay.DefaultRoom == "" {
		return errors.New("relay.defaultRoom cannot be empty")
	}
	if c.Transport.PingInterval < 0 {
		return fmt.Errorf("transport.pingInterval cannot be negative, got %s", c.Transport.PingInterval)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.maxBytes must be positive, got %d", c.Upload.MaxBytes)
	}
	return nil
}
