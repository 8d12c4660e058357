package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Directory backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8022"`
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`

	// Browser origins (host patterns such as "app.example.com" or
	// "*.example.com") allowed to call the API besides the API's own host.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`

	// Server directory storage: "sqlite" or "file". The file backend reads
	// DirectoryFile as JSON or YAML depending on its extension.
	DirectoryBackend string `envconfig:"DIRECTORY_BACKEND" default:"sqlite"`
	DirectoryFile    string `envconfig:"DIRECTORY_FILE" default:""`

	// Idle supervisor
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"5m"`
	IdleCheckInterval time.Duration `envconfig:"IDLE_CHECK_INTERVAL" default:"1m"`

	// SSH sessions
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	KeepaliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s"`
	KnownHostsPath    string        `envconfig:"KNOWN_HOSTS" default:""`
	TermType          string        `envconfig:"TERM_TYPE" default:"xterm"`
	TermCols          int           `envconfig:"TERM_COLS" default:"80"`
	TermRows          int           `envconfig:"TERM_ROWS" default:"24"`
	Encoding          string        `envconfig:"ENCODING" default:"utf-8"`
	LineEnding        string        `envconfig:"LINE_ENDING" default:"lf"`
	ScrollbackBytes   int           `envconfig:"SCROLLBACK_BYTES" default:"65536"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

// Load reads settings from SIMPLESSH_* environment variables and fills in
// paths derived from DataPath.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process("SIMPLESSH", &s); err != nil {
		return Settings{}, fmt.Errorf("load config: %w", err)
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "simplessh.db")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "simplessh.log")
	}
	if s.DirectoryFile == "" {
		s.DirectoryFile = filepath.Join(s.DataPath, "ServerInfo.json")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks values envconfig cannot.
func (s Settings) Validate() error {
	switch s.DirectoryBackend {
	case BackendSQLite, BackendFile:
	default:
		return fmt.Errorf("config: unknown directory backend %q", s.DirectoryBackend)
	}
	if _, err := s.LineTerminator(); err != nil {
		return err
	}
	if s.IdleTimeout <= 0 || s.IdleCheckInterval <= 0 {
		return fmt.Errorf("config: idle timeout and check interval must be positive")
	}
	if s.TermCols <= 0 || s.TermRows <= 0 {
		return fmt.Errorf("config: invalid terminal size %dx%d", s.TermCols, s.TermRows)
	}
	return nil
}

// LineTerminator maps LineEnding ("lf", "cr", "crlf") to its bytes.
func (s Settings) LineTerminator() (string, error) {
	switch strings.ToLower(s.LineEnding) {
	case "", "lf":
		return "\n", nil
	case "cr":
		return "\r", nil
	case "crlf":
		return "\r\n", nil
	}
	return "", fmt.Errorf("config: unknown line ending %q", s.LineEnding)
}
