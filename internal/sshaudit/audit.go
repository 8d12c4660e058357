package sshaudit

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/database"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logutil"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshterminal"
)

// Event types recorded in the audit trail.
const (
	EventConnected        = "connected"
	EventDisconnected     = "disconnected"
	EventConnectionFailed = "connection_failed"
	EventTransportError   = "transport_error"
	EventCommand          = "command"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// maxCommandDetails bounds the command text stored per entry.
const maxCommandDetails = 512

// Entry contains the fields needed to create an audit log record.
type Entry struct {
	SessionID  string
	Target     sshterminal.Target
	EventType  string
	Details    string
	DurationMs int64
}

// Auditor records session lifecycle events in the database and mirrors
// them to the standard logger.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor writing to db. A non-positive
// retentionDays selects DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Log writes one record.
func (a *Auditor) Log(entry Entry) error {
	record := database.SessionAuditLog{
		SessionID:  entry.SessionID,
		ServerName: entry.Target.Name,
		Host:       entry.Target.Host,
		Port:       entry.Target.Port,
		Username:   entry.Target.Username,
		EventType:  entry.EventType,
		Details:    entry.Details,
		DurationMs: entry.DurationMs,
		CreatedAt:  a.nowFn(),
	}
	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[audit] %s session=%s target=%s details=%s",
		entry.EventType,
		entry.SessionID,
		logutil.SanitizeForLog(entry.Target.String()),
		logutil.SanitizeForLog(entry.Details),
	)
	return nil
}

// LogCommand records a command sent to a session's shell.
func (a *Auditor) LogCommand(info sshterminal.Info, command string) error {
	return a.Log(Entry{
		SessionID: info.ID,
		Target:    info.Target,
		EventType: EventCommand,
		Details:   logutil.Truncate(command, maxCommandDetails),
	})
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	SessionID  string
	ServerName string
	Host       string
	EventType  string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.SessionAuditLog `json:"entries"`
	Total   int64                      `json:"total"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
}

// Query retrieves entries matching opts, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.SessionAuditLog{})

	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.ServerName != "" {
		tx = tx.Where("server_name = ?", opts.ServerName)
	}
	if opts.Host != "" {
		tx = tx.Where("host = ?", opts.Host)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.SessionAuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes entries older than days. A non-positive days
// uses the configured retention. Returns the number of records deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.SessionAuditLog{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
