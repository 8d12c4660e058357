package directory

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/database"
)

// DBRepository keeps the directory in the application database.
type DBRepository struct {
	memory
	db *gorm.DB
}

// NewDBRepository returns a repository backed by db. Call Load before use.
func NewDBRepository(db *gorm.DB) *DBRepository {
	return &DBRepository{db: db}
}

// Load reads all servers in their saved order and the theme setting.
func (r *DBRepository) Load() error {
	var rows []database.Server
	if err := r.db.Order("sort_order ASC, id ASC").Find(&rows).Error; err != nil {
		return fmt.Errorf("load servers: %w", err)
	}
	servers := make([]Server, 0, len(rows))
	for _, row := range rows {
		servers = append(servers, Server{Name: row.Name, Host: row.Host, Port: row.Port, Username: row.Username})
	}

	theme, err := database.GetSetting(r.db, database.SettingAppTheme)
	if err != nil && err != gorm.ErrRecordNotFound {
		return fmt.Errorf("load settings: %w", err)
	}
	settings := Settings{AppTheme: theme}
	if settings.Validate() != nil {
		settings = Settings{}
	}

	r.replace(normalize(servers, "database"), settings)
	return nil
}

// Save replaces the stored servers and settings in one transaction.
func (r *DBRepository) Save() error {
	servers, settings := r.snapshot()
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&database.Server{}).Error; err != nil {
			return fmt.Errorf("clear servers: %w", err)
		}
		for i, s := range servers {
			row := database.Server{Name: s.Name, Host: s.Host, Port: s.Port, Username: s.Username, SortOrder: i}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("save server %s: %w", s.Name, err)
			}
		}
		if err := database.SetSetting(tx, database.SettingAppTheme, settings.AppTheme); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		return nil
	})
}
