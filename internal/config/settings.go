// Package config wraps the Job Store's settings table with typed
// getters and setters, the way the teacher's ConfigManager wraps the
// same table for its own (unrelated) set of flags.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"project-tachyon/internal/storage"
)

// Keys for AppSettings rows.
const (
	KeyControlPort       = "control_port"
	KeyJWTSecret         = "jwt_secret"
	KeyMaxConcurrentURL  = "max_concurrent_url_jobs"
	KeyChatAppID         = "chat_provider_app_id"
	KeyChatAppHash       = "chat_provider_app_hash"
	KeyChatTargetChannel = "chat_target_channel_id"
	KeyChatMaxRetries    = "chat_max_retries"
	KeyCookiesFile       = "extractor_cookies_file"
	KeyMaxBandwidthBytes = "max_bandwidth_bytes_per_sec"
)

// Manager is the orchestrator's configuration layer: the control-port,
// JWT signing secret, chat provider credentials, and download tuning
// knobs, all backed by the same settings table the Job Store persists.
type Manager struct {
	store *storage.Store
}

// NewManager wraps a Store with typed configuration accessors.
func NewManager(s *storage.Store) *Manager {
	return &Manager{store: s}
}

// GetControlPort returns the Control Surface's listen port.
func (c *Manager) GetControlPort() int {
	return c.getIntOrDefault(KeyControlPort, 4444)
}

// SetControlPort persists the Control Surface's listen port.
func (c *Manager) SetControlPort(port int) error {
	return c.store.SetString(KeyControlPort, strconv.Itoa(port))
}

// GetMaxConcurrentURLJobs returns how many URL Download Workers may
// run at once.
func (c *Manager) GetMaxConcurrentURLJobs() int {
	return c.getIntOrDefault(KeyMaxConcurrentURL, 3)
}

// SetMaxConcurrentURLJobs persists the URL Worker concurrency cap.
func (c *Manager) SetMaxConcurrentURLJobs(max int) error {
	if max < 1 {
		max = 1
	}
	return c.store.SetString(KeyMaxConcurrentURL, strconv.Itoa(max))
}

// GetChatMaxRetries returns the Chat Download Worker's retry budget
// (spec §4.F default 6).
func (c *Manager) GetChatMaxRetries() int {
	return c.getIntOrDefault(KeyChatMaxRetries, 6)
}

// JWTSecret returns the HMAC signing secret for bearer tokens,
// generating and persisting one on first use.
func (c *Manager) JWTSecret() string {
	val, err := c.store.GetString(KeyJWTSecret)
	if err != nil || val == "" {
		secret := generateSecureToken()
		c.store.SetString(KeyJWTSecret, secret)
		return secret
	}
	return val
}

// ChatCredentials is the operator-mutable chat provider configuration
// (spec §6). Zero values mean "not configured".
type ChatCredentials struct {
	AppID           int
	AppHash         string
	TargetChannelID int64
}

// Configured reports whether every credential field is set.
func (c ChatCredentials) Configured() bool {
	return c.AppID != 0 && c.AppHash != "" && c.TargetChannelID != 0
}

// GetChatCredentials loads the chat provider configuration.
func (c *Manager) GetChatCredentials() ChatCredentials {
	appID := c.getIntOrDefault(KeyChatAppID, 0)
	hash, _ := c.store.GetString(KeyChatAppHash)
	channelStr, _ := c.store.GetString(KeyChatTargetChannel)
	channel, _ := strconv.ParseInt(channelStr, 10, 64)
	return ChatCredentials{AppID: appID, AppHash: hash, TargetChannelID: channel}
}

// SetChatCredentials persists the chat provider configuration.
func (c *Manager) SetChatCredentials(creds ChatCredentials) error {
	if err := c.store.SetString(KeyChatAppID, strconv.Itoa(creds.AppID)); err != nil {
		return err
	}
	if err := c.store.SetString(KeyChatAppHash, creds.AppHash); err != nil {
		return err
	}
	return c.store.SetString(KeyChatTargetChannel, strconv.FormatInt(creds.TargetChannelID, 10))
}

// GetMaxBandwidthBytesPerSec returns the operator-configured global
// download rate cap, or 0 for unlimited.
func (c *Manager) GetMaxBandwidthBytesPerSec() int {
	return c.getIntOrDefault(KeyMaxBandwidthBytes, 0)
}

// SetMaxBandwidthBytesPerSec persists the global download rate cap. 0
// disables the cap.
func (c *Manager) SetMaxBandwidthBytesPerSec(bytesPerSec int) error {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return c.store.SetString(KeyMaxBandwidthBytes, strconv.Itoa(bytesPerSec))
}

// GetCookiesFile returns the configured Netscape-format cookies file
// path used by the extractor adapter for access-restricted sources, or
// "" if none is set.
func (c *Manager) GetCookiesFile() string {
	val, _ := c.store.GetString(KeyCookiesFile)
	return val
}

// SetCookiesFile persists the extractor cookies file path.
func (c *Manager) SetCookiesFile(path string) error {
	return c.store.SetString(KeyCookiesFile, path)
}

func (c *Manager) getIntOrDefault(key string, def int) int {
	valStr, err := c.store.GetString(key)
	if err != nil || valStr == "" {
		return def
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return def
	}
	return val
}

func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "orchestrator-fallback-secret-change-me"
	}
	return hex.EncodeToString(b)
}
