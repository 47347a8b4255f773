package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/eyecam/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "eyecam", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("backend", m.config.Camera.Backend).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Keys missing from the file keep
// their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()
	log := logger.WithComponent("config")

	log.Debug().Str("path", m.configPath).Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return fmt.Errorf("failed to write config: %w", err)
	}

	log.Info().Str("path", m.configPath).Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	c := *cfg
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	cfg := m.Get()
	cfg.ServerPort = port
	return m.Update(cfg)
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	cfg := m.Get()
	cfg.LogLevel = level
	return m.Update(cfg)
}

// SetTargetFPS sets the camera's target frame rate
func (m *Manager) SetTargetFPS(fps int) error {
	cfg := m.Get()
	cfg.Camera.TargetFPS = fps
	return m.Update(cfg)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetViper returns a viper view of the current configuration, keyed by the
// YAML names ("camera.backend", "serial.peek_size")
func (m *Manager) GetViper() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}
	return v, nil
}

// Set parses value according to the type of key, then validates and saves
func (m *Manager) Set(key, value string) error {
	v, err := m.GetViper()
	if err != nil {
		return err
	}

	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}
	if _, nested := v.Get(key).(map[string]interface{}); nested {
		return fmt.Errorf("configuration key %s is a section, set one of its fields", key)
	}

	switch v.Get(key).(type) {
	case int, int64, float64:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		v.Set(key, n)
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
		}
		v.Set(key, b)
	default:
		v.Set(key, value)
	}

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return m.Update(cfg)
}

// Lookup returns the value stored under a dotted key. A section key
// returns its fields as a map.
func (m *Manager) Lookup(key string) (interface{}, error) {
	v, err := m.GetViper()
	if err != nil {
		return nil, err
	}
	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	return v.Get(key), nil
}

// Validate checks every field that has a constrained range
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port must be between 1 and 65535, got %d", c.ServerPort)
	}
	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", c.LogLevel)
	}
	if _, err := camera.ParseKind(c.Camera.Backend); err != nil {
		return err
	}
	if c.Camera.TargetFPS < 0 || c.Camera.TargetFPS > math.MaxUint16 {
		return fmt.Errorf("camera.target_fps must be between 0 and %d, got %d", math.MaxUint16, c.Camera.TargetFPS)
	}

	nonNegative := map[string]int{
		"serial.baud_rate":        c.Serial.BaudRate,
		"serial.read_timeout_ms":  c.Serial.ReadTimeoutMs,
		"serial.backlog_limit":    c.Serial.BacklogLimit,
		"serial.max_scan_windows": c.Serial.MaxScanWindows,
	}
	for key, n := range nonNegative {
		if n < 0 {
			return fmt.Errorf("%s must not be negative, got %d", key, n)
		}
	}
	// a window must at least hold a header and its length
	if c.Serial.PeekSize != 0 && c.Serial.PeekSize < 6 {
		return fmt.Errorf("serial.peek_size must be 0 or at least 6, got %d", c.Serial.PeekSize)
	}
	if c.Stream.ClientBuffer < 1 {
		return fmt.Errorf("stream.client_buffer must be at least 1, got %d", c.Stream.ClientBuffer)
	}
	return nil
}
