package directory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileServer is the on-disk form of a server entry. The JSON keys match
// the ServerInfo.json files written by earlier desktop releases.
type fileServer struct {
	Name     string `json:"ServerName" yaml:"name"`
	Username string `json:"ServerUsername" yaml:"username"`
	Host     string `json:"ServerIp" yaml:"host"`
	Port     int    `json:"ServerPort" yaml:"port"`
}

type fileSettings struct {
	AppTheme string `json:"AppTheme" yaml:"app_theme"`
}

// legacySettingsFile holds the theme next to ServerInfo.json in desktop
// releases that kept settings in a separate file. It is read, never written.
const legacySettingsFile = "AppConfig.json"

type fileDocument struct {
	Servers  []fileServer `json:"Servers" yaml:"servers"`
	Settings fileSettings `json:"Settings" yaml:"settings"`
}

// FileRepository keeps the directory in a single JSON or YAML file. Files
// ending in .yaml or .yml are YAML; anything else is JSON.
type FileRepository struct {
	memory
	path string
}

// NewFileRepository returns a repository backed by path. Call Load before use.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Path returns the backing file.
func (r *FileRepository) Path() string {
	return r.path
}

func (r *FileRepository) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(r.path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads the file. A missing or empty file is created with an empty
// server list and default settings. When the file carries no theme, the
// theme of a sibling AppConfig.json is used.
func (r *FileRepository) Load() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(bytes.TrimSpace(data)) == 0) {
		log.Printf("[directory] %s missing or empty, creating it", r.path)
		r.replace(nil, r.legacySettings())
		return r.Save()
	}
	if err != nil {
		return fmt.Errorf("read directory file: %w", err)
	}

	var doc fileDocument
	if r.isYAML() {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return fmt.Errorf("parse directory file %s: %w", r.path, err)
	}

	servers := make([]Server, 0, len(doc.Servers))
	for _, fs := range doc.Servers {
		servers = append(servers, Server{Name: fs.Name, Host: fs.Host, Port: fs.Port, Username: fs.Username})
	}
	settings := Settings{AppTheme: doc.Settings.AppTheme}
	if err := settings.Validate(); err != nil {
		log.Printf("[directory] %s: %v, using system theme", r.path, err)
		settings = Settings{}
	}
	if settings.AppTheme == ThemeSystem {
		settings = r.legacySettings()
	}
	r.replace(normalize(servers, r.path), settings)
	return nil
}

// legacySettings reads AppConfig.json next to the directory file. A missing,
// unreadable or invalid file yields default settings.
func (r *FileRepository) legacySettings() Settings {
	path := filepath.Join(filepath.Dir(r.path), legacySettingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[directory] read %s: %v", path, err)
		}
		return Settings{}
	}
	var legacy fileSettings
	if err := json.Unmarshal(data, &legacy); err != nil {
		log.Printf("[directory] parse %s: %v, using system theme", path, err)
		return Settings{}
	}
	settings := Settings{AppTheme: strings.ToLower(strings.TrimSpace(legacy.AppTheme))}
	if err := settings.Validate(); err != nil {
		log.Printf("[directory] %s: %v, using system theme", path, err)
		return Settings{}
	}
	if settings.AppTheme != ThemeSystem {
		log.Printf("[directory] using theme %q from %s", settings.AppTheme, path)
	}
	return settings
}

// Save writes the file atomically through a temporary file in the same
// directory.
func (r *FileRepository) Save() error {
	servers, settings := r.snapshot()
	doc := fileDocument{
		Servers:  make([]fileServer, 0, len(servers)),
		Settings: fileSettings{AppTheme: settings.AppTheme},
	}
	for _, s := range servers {
		doc.Servers = append(doc.Servers, fileServer{Name: s.Name, Username: s.Username, Host: s.Host, Port: s.Port})
	}

	var (
		data []byte
		err  error
	)
	if r.isYAML() {
		data, err = yaml.Marshal(&doc)
	} else {
		data, err = json.MarshalIndent(&doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode directory file: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", r.path, err)
	}
	tmp, err := os.CreateTemp(dir, ".directory-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", r.path, err)
	}
	return nil
}
