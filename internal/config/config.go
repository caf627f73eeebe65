// Package config handles configuration loading, validation, and persistence
// for the Tavolo game server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 2112
	DefaultAPIPort    = 5000
)

// Config is the root configuration structure for Tavolo.
type Config struct {
	mu   sync.RWMutex
	path string

	Server      ServerData      `json:"server"`
	Application ApplicationData `json:"application"`
}

// ServerData contains game server specific configuration.
type ServerData struct {
	// Listener
	ListenAddress string `json:"listen_address"`
	Port          int    `json:"port"`

	// Table
	MaxPlayers    int    `json:"max_players"`
	StartingCards int    `json:"starting_cards"`
	AdminName     string `json:"admin_name"`
	Motd          string `json:"motd"`

	// Timeouts
	SendTimeoutSec     int `json:"send_timeout_sec"`
	ShutdownTimeoutSec int `json:"shutdown_timeout_sec"`
}

// ApplicationData contains auxiliary application configuration.
type ApplicationData struct {
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
	Logging LoggingConfig `json:"logging"`
}

// APIConfig holds the read-only monitor API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	TopicBase string `json:"topic_base"`
}

// HistoryConfig holds match history persistence settings.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerData{
			ListenAddress:      "0.0.0.0",
			Port:               DefaultGamePort,
			MaxPlayers:         10,
			StartingCards:      7,
			AdminName:          "admin",
			Motd:               "Benvenuto al tavolo!",
			SendTimeoutSec:     10,
			ShutdownTimeoutSec: 15,
		},
		Application: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Port:    DefaultAPIPort,
			},
			MQTT: MQTTConfig{
				Enabled:   false,
				Port:      1883,
				TopicBase: "tavolo",
			},
			History: HistoryConfig{
				Enabled: true,
				Path:    "tavolo.db",
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	// This ensures config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid game port %d", c.Server.Port)
	}
	if c.Server.MaxPlayers < 2 {
		return fmt.Errorf("max_players must be at least 2, got %d", c.Server.MaxPlayers)
	}
	if c.Server.StartingCards < 1 {
		return fmt.Errorf("starting_cards must be at least 1, got %d", c.Server.StartingCards)
	}
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetApplication returns a copy of the application configuration.
func (c *Config) GetApplication() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
