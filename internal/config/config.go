package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/devduel/devduel/internal/util"
)

type Config struct {
	Backend    Backend    `json:"backend"`
	Connection Connection `json:"connection"`
	Chat       Chat       `json:"chat"`
	Game       Game       `json:"game"`
	Storage    Storage    `json:"storage"`
	Viewer     Viewer     `json:"viewer"`
}

type Backend struct {
	// Base URL of the DevDuel REST API, e.g. https://api.devduel.io
	BaseURL string `json:"base_url"`

	// WebSocket endpoint for the live event stream. Empty derives
	// ws(s)://<base_host>/events from BaseURL.
	EventsURL string `json:"events_url"`

	// Maintenance-mode poll interval while authenticated and non-admin.
	MaintenancePollSec int `json:"maintenance_poll_seconds"`
}

type Connection struct {
	// Reconnect attempts after an unexpected drop before giving up.
	MaxReconnects int `json:"max_reconnects"`

	// Fixed delay between reconnect attempts.
	ReconnectDelaySec int `json:"reconnect_delay_seconds"`
}

type Chat struct {
	HistoryPageSize    int `json:"history_page_size"`
	LoadAttempts       int `json:"load_attempts"`
	SendAttempts       int `json:"send_attempts"`
	ReadMarkDebounceMs int `json:"read_mark_debounce_ms"`
}

type Game struct {
	// Seconds a pending invite stays actionable before its countdown hits zero.
	InviteCountdownSec int `json:"invite_countdown_seconds"`
}

type Storage struct {
	// SQLite database file, relative to the profile directory.
	DBFile string `json:"db_file"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`
	Theme    string `json:"theme"`
}

func Default() Config {
	return Config{
		Backend: Backend{
			BaseURL:            "http://127.0.0.1:4000",
			EventsURL:          "",
			MaintenancePollSec: 30,
		},
		Connection: Connection{
			MaxReconnects:     5,
			ReconnectDelaySec: 3,
		},
		Chat: Chat{
			HistoryPageSize:    50,
			LoadAttempts:       3,
			SendAttempts:       3,
			ReadMarkDebounceMs: 1500,
		},
		Game: Game{
			InviteCountdownSec: 30,
		},
		Storage: Storage{
			DBFile: "data/devduel.db",
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:7711",
			Debug:    false,
			Theme:    "dark",
		},
	}
}

func (c *Config) Validate() error {
	// Backend
	base := strings.TrimSpace(c.Backend.BaseURL)
	if base == "" {
		return errors.New("backend.base_url is required")
	}
	if err := validateHTTPURL(base); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if ev := strings.TrimSpace(c.Backend.EventsURL); ev != "" {
		u, err := url.Parse(ev)
		if err != nil {
			return fmt.Errorf("backend.events_url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return errors.New("backend.events_url scheme must be ws or wss")
		}
	}
	if c.Backend.MaintenancePollSec <= 0 {
		return errors.New("backend.maintenance_poll_seconds must be > 0")
	}

	// Connection
	if c.Connection.MaxReconnects < 0 {
		return errors.New("connection.max_reconnects must be >= 0")
	}
	if c.Connection.ReconnectDelaySec <= 0 {
		return errors.New("connection.reconnect_delay_seconds must be > 0")
	}

	// Chat
	if c.Chat.HistoryPageSize <= 0 || c.Chat.HistoryPageSize > 500 {
		return errors.New("chat.history_page_size must be 1..500")
	}
	if c.Chat.LoadAttempts <= 0 {
		return errors.New("chat.load_attempts must be > 0")
	}
	if c.Chat.SendAttempts <= 0 {
		return errors.New("chat.send_attempts must be > 0")
	}
	if c.Chat.ReadMarkDebounceMs <= 0 {
		return errors.New("chat.read_mark_debounce_ms must be > 0")
	}

	// Game
	if c.Game.InviteCountdownSec <= 0 {
		return errors.New("game.invite_countdown_seconds must be > 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.DBFile) == "" {
		return errors.New("storage.db_file is required")
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// EventsEndpoint returns the explicit events URL, or one derived from the
// REST base URL (http -> ws, https -> wss, path /events).
func (c *Config) EventsEndpoint() string {
	if ev := strings.TrimSpace(c.Backend.EventsURL); ev != "" {
		return ev
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/events"
	return u.String()
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
