package directory

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm/logger"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/database"
)

func TestPutAddsAndReplacesByName(t *testing.T) {
	var m memory
	if err := m.Put(Server{Name: "web", Host: "10.0.0.1", Username: "root"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(Server{Name: "db", Host: "10.0.0.2", Port: 2222, Username: "admin"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(Server{Name: "web", Host: "10.0.0.9", Username: "ops"}); err != nil {
		t.Fatalf("Put replace: %v", err)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Name != "web" || list[0].Host != "10.0.0.9" || list[0].Port != 22 {
		t.Errorf("first entry = %+v", list[0])
	}
	if list[1].Port != 2222 {
		t.Errorf("second entry port = %d", list[1].Port)
	}
}

func TestPutRejectsInvalid(t *testing.T) {
	var m memory
	cases := []Server{
		{Name: "", Host: "h", Username: "u"},
		{Name: "x", Host: "", Username: "u"},
		{Name: "x", Host: "h", Username: " "},
		{Name: "x", Host: "h", Port: 70000, Username: "u"},
	}
	for _, s := range cases {
		if err := m.Put(s); err == nil {
			t.Errorf("Put(%+v) succeeded", s)
		}
	}
	if len(m.List()) != 0 {
		t.Error("invalid entries were stored")
	}
}

func TestRemoveUnknown(t *testing.T) {
	var m memory
	if err := m.Remove("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove = %v, want ErrNotFound", err)
	}
}

func TestListReturnsCopy(t *testing.T) {
	var m memory
	m.Put(Server{Name: "web", Host: "h", Username: "u"})
	list := m.List()
	list[0].Host = "changed"
	if s, _ := m.Get("web"); s.Host != "h" {
		t.Error("List exposed internal slice")
	}
}

func TestSetSettingsValidatesTheme(t *testing.T) {
	var m memory
	if err := m.SetSettings(Settings{AppTheme: "neon"}); err == nil {
		t.Error("unknown theme accepted")
	}
	if err := m.SetSettings(Settings{AppTheme: ThemeDark}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	if m.Settings().AppTheme != ThemeDark {
		t.Errorf("theme = %q", m.Settings().AppTheme)
	}
}

func TestAddRejectsExistingName(t *testing.T) {
	var m memory
	if err := m.Add(Server{Name: "web", Host: "10.0.0.1", Username: "root"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Add(Server{Name: "web", Host: "10.0.0.2", Username: "root"}); !errors.Is(err, ErrExists) {
		t.Errorf("Add duplicate = %v, want ErrExists", err)
	}
	if s, _ := m.Get("web"); s.Host != "10.0.0.1" || s.Port != 22 {
		t.Errorf("entry = %+v", s)
	}
	if err := m.Add(Server{Name: "db", Host: "", Username: "root"}); err == nil || errors.Is(err, ErrExists) {
		t.Errorf("Add invalid = %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	var m memory
	m.Put(Server{Name: "web", Host: "10.0.0.1", Username: "root"})
	m.SetSettings(Settings{AppTheme: ThemeLight})

	servers, settings := m.Snapshot()
	m.Remove("web")
	m.Put(Server{Name: "db", Host: "10.0.0.2", Username: "admin"})
	m.SetSettings(Settings{AppTheme: ThemeDark})
	m.Restore(servers, settings)

	list := m.List()
	if len(list) != 1 || list[0].Name != "web" {
		t.Errorf("restored servers = %+v", list)
	}
	if m.Settings().AppTheme != ThemeLight {
		t.Errorf("restored theme = %q", m.Settings().AppTheme)
	}

	servers[0].Host = "changed"
	if s, _ := m.Get("web"); s.Host != "10.0.0.1" {
		t.Error("Restore kept a reference to the caller's slice")
	}
}

func TestFileLoadCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "ServerInfo.json")
	r := NewFileRepository(path)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("created file is not JSON: %v", err)
	}
	if _, ok := doc["Servers"]; !ok {
		t.Errorf("created file lacks Servers: %s", data)
	}
	if len(r.List()) != 0 {
		t.Error("new directory not empty")
	}
}

func TestFileLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ServerInfo.json")
	os.WriteFile(path, []byte("  \n"), 0644)
	r := NewFileRepository(path)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "Servers") {
		t.Errorf("empty file not rewritten: %q", data)
	}
}

func TestFileLoadClassicLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ServerInfo.json")
	classic := `{
  "Servers": [
    {"ServerName": "web", "ServerUsername": "root", "ServerIp": "10.0.0.1", "ServerPort": 22},
    {"ServerName": "nop", "ServerUsername": "", "ServerIp": "10.0.0.2", "ServerPort": 22},
    {"ServerName": "alt", "ServerUsername": "ops", "ServerIp": "example.com"},
    {"ServerName": "web", "ServerUsername": "dup", "ServerIp": "10.0.0.3", "ServerPort": 22}
  ],
  "Settings": {"AppTheme": "dark"}
}`
	os.WriteFile(path, []byte(classic), 0644)

	r := NewFileRepository(path)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("servers = %+v, want web and alt", list)
	}
	if list[0].Name != "web" || list[0].Username != "root" {
		t.Errorf("first = %+v", list[0])
	}
	if list[1].Name != "alt" || list[1].Port != 22 {
		t.Errorf("second = %+v", list[1])
	}
	if r.Settings().AppTheme != ThemeDark {
		t.Errorf("theme = %q", r.Settings().AppTheme)
	}
}

func TestFileLoadLegacyAppConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ServerInfo.json")
	os.WriteFile(filepath.Join(dir, "AppConfig.json"), []byte(`{"appTheme": "dark"}`), 0644)

	// Missing directory file: the new file carries the legacy theme.
	r := NewFileRepository(path)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Settings().AppTheme != ThemeDark {
		t.Errorf("theme = %q, want dark", r.Settings().AppTheme)
	}

	// A theme in the directory file wins.
	os.WriteFile(path, []byte(`{"Servers": [], "Settings": {"AppTheme": "light"}}`), 0644)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Settings().AppTheme != ThemeLight {
		t.Errorf("theme = %q, want light", r.Settings().AppTheme)
	}

	// No theme in the directory file: fall back again.
	os.WriteFile(path, []byte(`{"Servers": []}`), 0644)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Settings().AppTheme != ThemeDark {
		t.Errorf("theme = %q, want dark", r.Settings().AppTheme)
	}

	// An unknown legacy theme is ignored.
	os.WriteFile(filepath.Join(dir, "AppConfig.json"), []byte(`{"AppTheme": "neon"}`), 0644)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Settings().AppTheme != ThemeSystem {
		t.Errorf("theme = %q, want system", r.Settings().AppTheme)
	}
}

func TestFileLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ServerInfo.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if err := NewFileRepository(path).Load(); err == nil {
		t.Error("Load of malformed file succeeded")
	}
}

func TestFileSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"servers.json", "servers.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			r := NewFileRepository(path)
			if err := r.Load(); err != nil {
				t.Fatalf("Load: %v", err)
			}
			r.Put(Server{Name: "b", Host: "10.0.0.2", Port: 2200, Username: "u2"})
			r.Put(Server{Name: "a", Host: "10.0.0.1", Username: "u1"})
			r.SetSettings(Settings{AppTheme: ThemeLight})
			if err := r.Save(); err != nil {
				t.Fatalf("Save: %v", err)
			}

			other := NewFileRepository(path)
			if err := other.Load(); err != nil {
				t.Fatalf("reload: %v", err)
			}
			list := other.List()
			if len(list) != 2 || list[0].Name != "b" || list[1].Name != "a" {
				t.Fatalf("reloaded order = %+v", list)
			}
			if list[0].Port != 2200 {
				t.Errorf("port = %d", list[0].Port)
			}
			if other.Settings().AppTheme != ThemeLight {
				t.Errorf("theme = %q", other.Settings().AppTheme)
			}

			entries, _ := os.ReadDir(filepath.Dir(path))
			if len(entries) != 1 {
				t.Errorf("leftover files after save: %d entries", len(entries))
			}
		})
	}
}

func TestFileYAMLIsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yml")
	r := NewFileRepository(path)
	r.Put(Server{Name: "web", Host: "h", Username: "u"})
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "servers:") || strings.Contains(string(data), "{") {
		t.Errorf("unexpected YAML output:\n%s", data)
	}
}

func TestDBRoundTrip(t *testing.T) {
	db, err := database.Open(":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })

	r := NewDBRepository(db)
	if err := r.Load(); err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if len(r.List()) != 0 || r.Settings().AppTheme != ThemeSystem {
		t.Fatalf("fresh db not empty: %+v %+v", r.List(), r.Settings())
	}

	r.Put(Server{Name: "z", Host: "10.0.0.9", Username: "root"})
	r.Put(Server{Name: "a", Host: "10.0.0.1", Port: 2022, Username: "ops"})
	r.SetSettings(Settings{AppTheme: ThemeDark})
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Saving again must not trip the unique name index.
	r.Remove("z")
	r.Put(Server{Name: "z", Host: "10.0.0.10", Username: "root"})
	if err := r.Save(); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	other := NewDBRepository(db)
	if err := other.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	list := other.List()
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "z" {
		t.Fatalf("order = %+v", list)
	}
	if list[1].Host != "10.0.0.10" || list[0].Port != 2022 {
		t.Errorf("entries = %+v", list)
	}
	if other.Settings().AppTheme != ThemeDark {
		t.Errorf("theme = %q", other.Settings().AppTheme)
	}
}

func TestRepositoriesSatisfyInterface(t *testing.T) {
	var _ Repository = (*FileRepository)(nil)
	var _ Repository = (*DBRepository)(nil)
}
