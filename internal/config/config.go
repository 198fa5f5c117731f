// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/earcatch/earcatch/internal/util"
)

// Configuration defaults.
const (
	DefaultWebPort             = 8765
	DefaultRecognitionEndpoint = "https://api.audd.io/"
	DefaultListenSeconds       = 10
	DefaultMaxClips            = 32
	DefaultEmailSMTPPort       = 587
	DefaultEmailFromName       = "earcatch"
)

// WebConfig contains the presentation boundary configuration.
type WebConfig struct {
	Port int `json:"port"`
}

// AudioConfig contains audio input configuration.
type AudioConfig struct {
	// Input is the preferred capture device id; empty means the platform
	// default.
	Input string `json:"input,omitempty"`
}

// RecognitionConfig contains fingerprinting service configuration.
type RecognitionConfig struct {
	Endpoint      string `json:"endpoint,omitempty"`
	APIToken      string `json:"api_token,omitempty"`
	ListenSeconds int    `json:"listen_seconds,omitempty"`
}

// StorageConfig contains durable storage paths.
type StorageConfig struct {
	DatabasePath string `json:"database_path,omitempty"`
	ClipsDir     string `json:"clips_dir,omitempty"`
	MaxClips     int    `json:"max_clips,omitempty"`
}

// EmailConfig contains email notification configuration.
type EmailConfig struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	FromName   string `json:"from_name,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Recipients string `json:"recipients,omitempty"`
}

// NotificationsConfig contains all notification configuration.
type NotificationsConfig struct {
	WebhookURL string      `json:"webhook_url,omitempty"`
	LogPath    string      `json:"log_path,omitempty"`
	Email      EmailConfig `json:"email,omitempty"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Web           WebConfig           `json:"web"`
	Audio         AudioConfig         `json:"audio"`
	Recognition   RecognitionConfig   `json:"recognition"`
	Storage       StorageConfig       `json:"storage,omitempty"`
	Notifications NotificationsConfig `json:"notifications,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		Web: WebConfig{
			Port: DefaultWebPort,
		},
		Recognition: RecognitionConfig{
			Endpoint:      DefaultRecognitionEndpoint,
			ListenSeconds: DefaultListenSeconds,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()
	return nil
}

// applyDefaults sets default values for zero-value or invalid fields.
func (c *Config) applyDefaults() {
	if err := util.ValidatePort("web port", c.Web.Port); err != nil {
		c.Web.Port = DefaultWebPort
	}
	if c.Recognition.Endpoint == "" {
		c.Recognition.Endpoint = DefaultRecognitionEndpoint
	}
	if c.Recognition.ListenSeconds <= 0 {
		c.Recognition.ListenSeconds = DefaultListenSeconds
	}
}

// Save writes the configuration to file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// dataPath resolves a storage path relative to the config file's directory.
func (c *Config) dataPath(configured, fallback string) string {
	path := cmp.Or(configured, fallback)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(c.filePath), path)
}

// WebPort returns the presentation boundary port.
func (c *Config) WebPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Web.Port
}

// AudioInput returns the preferred capture device id, empty for the
// platform default.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// SetAudioInput updates the capture device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// RecognitionEndpoint returns the fingerprinting service URL.
func (c *Config) RecognitionEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.Recognition.Endpoint, DefaultRecognitionEndpoint)
}

// APIToken returns the fingerprinting service token.
func (c *Config) APIToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Recognition.APIToken
}

// SetAPIToken updates the service token and saves the configuration.
func (c *Config) SetAPIToken(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Recognition.APIToken = token
	return c.saveLocked()
}

// ListenSeconds returns how long one attempt listens before submitting.
func (c *Config) ListenSeconds() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Recognition.ListenSeconds <= 0 {
		return DefaultListenSeconds
	}
	return c.Recognition.ListenSeconds
}

// SetListenSeconds updates the listen duration and saves the configuration.
func (c *Config) SetListenSeconds(seconds int) error {
	if err := util.ValidateRange("listen_seconds", seconds, 1, 60); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Recognition.ListenSeconds = seconds
	return c.saveLocked()
}

// DatabasePath returns the song database location.
func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataPath(c.Storage.DatabasePath, "songs.db")
}

// ClipsDir returns the saved-clips directory.
func (c *Config) ClipsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataPath(c.Storage.ClipsDir, "clips")
}

// MaxClips returns the saved-clips cap.
func (c *Config) MaxClips() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cmp.Or(c.Storage.MaxClips, DefaultMaxClips)
}

// WebhookURL returns the configured webhook URL for notifications.
func (c *Config) WebhookURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.WebhookURL
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.WebhookURL = url
	return c.saveLocked()
}

// LogPath returns the configured log file path for notifications.
func (c *Config) LogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.LogPath
}

// SetLogPath updates the log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.LogPath = path
	return c.saveLocked()
}

// SetEmailConfig updates all email configuration fields and saves.
func (c *Config) SetEmailConfig(host string, port int, fromName, username, password, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.Host = host
	c.Notifications.Email.Port = port
	c.Notifications.Email.FromName = fromName
	c.Notifications.Email.Username = username
	c.Notifications.Email.Password = password
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// Snapshot contains a point-in-time copy of all configuration values.
// Use this instead of multiple individual getters to reduce mutex contention.
type Snapshot struct {
	// Web
	WebPort int

	// Audio
	AudioInput string

	// Recognition
	RecognitionEndpoint string
	APIToken            string
	ListenSeconds       int

	// Storage
	DatabasePath string
	ClipsDir     string
	MaxClips     int

	// Notifications
	WebhookURL string
	LogPath    string

	// Email
	EmailSMTPHost   string
	EmailSMTPPort   int
	EmailFromName   string
	EmailUsername   string
	EmailPassword   string
	EmailRecipients string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	listenSeconds := c.Recognition.ListenSeconds
	if listenSeconds <= 0 {
		listenSeconds = DefaultListenSeconds
	}

	return Snapshot{
		WebPort: c.Web.Port,

		AudioInput: c.Audio.Input,

		RecognitionEndpoint: cmp.Or(c.Recognition.Endpoint, DefaultRecognitionEndpoint),
		APIToken:            c.Recognition.APIToken,
		ListenSeconds:       listenSeconds,

		DatabasePath: c.dataPath(c.Storage.DatabasePath, "songs.db"),
		ClipsDir:     c.dataPath(c.Storage.ClipsDir, "clips"),
		MaxClips:     cmp.Or(c.Storage.MaxClips, DefaultMaxClips),

		WebhookURL: c.Notifications.WebhookURL,
		LogPath:    c.Notifications.LogPath,

		EmailSMTPHost:   c.Notifications.Email.Host,
		EmailSMTPPort:   cmp.Or(c.Notifications.Email.Port, DefaultEmailSMTPPort),
		EmailFromName:   cmp.Or(c.Notifications.Email.FromName, DefaultEmailFromName),
		EmailUsername:   c.Notifications.Email.Username,
		EmailPassword:   c.Notifications.Email.Password,
		EmailRecipients: c.Notifications.Email.Recipients,
	}
}

// HasWebhook returns true if a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasEmail returns true if email notifications are configured.
func (s *Snapshot) HasEmail() bool {
	return s.EmailSMTPHost != "" && s.EmailRecipients != ""
}

// HasLogPath returns true if a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}
