// Package directory stores the saved server list and the application
// settings. A [Repository] keeps them in memory; Load and Save move them
// between memory and storage explicitly, so nothing is written behind the
// caller's back.
//
// Two backends exist: [FileRepository] (JSON compatible with the classic
// ServerInfo.json layout, or YAML) and [DBRepository] (SQLite via gorm).
//
// Log prefix: [directory].
package directory

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logutil"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshterminal"
)

var (
	ErrNotFound = errors.New("server not found")
	ErrExists   = errors.New("server already exists")
)

// Server is a saved connection target.
type Server struct {
	Name     string `json:"name" yaml:"name"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
}

// Validate checks that the server has a name and a dialable target.
func (s Server) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("server name is empty")
	}
	return s.Target().Validate()
}

// Target converts the entry to a session target.
func (s Server) Target() sshterminal.Target {
	return sshterminal.Target{Name: s.Name, Host: s.Host, Port: s.Port, Username: s.Username}
}

// Themes accepted by Settings.AppTheme. Empty means follow the system.
const (
	ThemeSystem = ""
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// Settings are the application preferences.
type Settings struct {
	AppTheme string `json:"app_theme" yaml:"app_theme"`
}

func (s Settings) Validate() error {
	switch s.AppTheme {
	case ThemeSystem, ThemeLight, ThemeDark:
		return nil
	}
	return fmt.Errorf("unknown theme %q", s.AppTheme)
}

// Repository is the server directory and settings store.
type Repository interface {
	// Load replaces the in-memory state with the stored one.
	Load() error
	// Save writes the in-memory state to storage.
	Save() error

	List() []Server
	Get(name string) (Server, bool)
	// Put adds s, or replaces the entry with the same name in place.
	Put(s Server) error
	// Add appends s unless an entry with the same name exists, in which
	// case it returns ErrExists.
	Add(s Server) error
	Remove(name string) error

	Settings() Settings
	SetSettings(s Settings) error

	// Snapshot copies the in-memory state; Restore puts a snapshot back.
	// Together they undo changes whose Save failed.
	Snapshot() ([]Server, Settings)
	Restore(servers []Server, settings Settings)
}

// memory is the in-memory state shared by the backends.
type memory struct {
	mu       sync.RWMutex
	servers  []Server
	settings Settings
}

func (m *memory) replace(servers []Server, settings Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = servers
	m.settings = settings
}

func (m *memory) snapshot() ([]Server, Settings) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Server(nil), m.servers...), m.settings
}

func (m *memory) Snapshot() ([]Server, Settings) {
	return m.snapshot()
}

func (m *memory) Restore(servers []Server, settings Settings) {
	m.replace(append([]Server(nil), servers...), settings)
}

func (m *memory) List() []Server {
	servers, _ := m.snapshot()
	return servers
}

func (m *memory) Get(name string) (Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.servers {
		if s.Name == name {
			return s, true
		}
	}
	return Server{}, false
}

func (m *memory) Put(s Server) error {
	return m.put(s, true)
}

func (m *memory) Add(s Server) error {
	return m.put(s, false)
}

func (m *memory) put(s Server, replace bool) error {
	if s.Port == 0 {
		s.Port = sshterminal.DefaultPort
	}
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.servers {
		if m.servers[i].Name == s.Name {
			if !replace {
				return fmt.Errorf("%q: %w", s.Name, ErrExists)
			}
			m.servers[i] = s
			return nil
		}
	}
	m.servers = append(m.servers, s)
	return nil
}

func (m *memory) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.servers {
		if m.servers[i].Name == name {
			m.servers = append(m.servers[:i], m.servers[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memory) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

func (m *memory) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

// normalize fills defaults and drops entries that cannot be dialed.
func normalize(servers []Server, source string) []Server {
	result := make([]Server, 0, len(servers))
	seen := make(map[string]bool, len(servers))
	for _, s := range servers {
		if s.Port == 0 {
			s.Port = sshterminal.DefaultPort
		}
		if err := s.Validate(); err != nil {
			log.Printf("[directory] %s: skipping entry %q: %v", source, logutil.SanitizeForLog(s.Name), err)
			continue
		}
		if seen[s.Name] {
			log.Printf("[directory] %s: skipping duplicate entry %q", source, logutil.SanitizeForLog(s.Name))
			continue
		}
		seen[s.Name] = true
		result = append(result, s)
	}
	return result
}
