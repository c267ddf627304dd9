package persistence

import (
	"fmt"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// AuditEventModel is the sqlite-mirrored row for one audit.jsonl entry.
// audit.jsonl remains the source of truth (§6); this index answers
// "last N of type X" without scanning the whole file (the /audit command
// reads audit.jsonl directly and does not use it), grounded on the
// teacher's gorm-backed persistence.db.go.
type AuditEventModel struct {
	ID        string `gorm:"primaryKey"`
	Type      string `gorm:"index"`
	Timestamp time.Time `gorm:"index"`
	Details   string // JSON-encoded entity.AuditEvent.Details
}

func (AuditEventModel) TableName() string { return "audit_events" }

// AuditIndex is an optional queryable mirror of audit.jsonl, backed by
// SQLite. It is derived state: safe to delete and rebuild by replaying
// audit.jsonl.
type AuditIndex struct {
	db *gorm.DB
}

// OpenAuditIndex opens (creating if absent) <storageDir>/audit_index.db
// and migrates its schema.
func OpenAuditIndex(storageDir string) (*AuditIndex, error) {
	dsn := filepath.Join(storageDir, "audit_index.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open audit index: %w", err)
	}
	if err := db.AutoMigrate(&AuditEventModel{}); err != nil {
		return nil, fmt.Errorf("migrate audit index: %w", err)
	}
	return &AuditIndex{db: db}, nil
}

// Index inserts one audit event's mirror row. Best-effort: callers
// should log, not propagate, a returned error — the index is disposable.
func (a *AuditIndex) Index(event entity.AuditEvent, detailsJSON string) error {
	return a.db.Create(&AuditEventModel{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Details:   detailsJSON,
	}).Error
}

// RecentByType returns the n most recent events of a given type, newest
// first. An empty eventType matches every type.
func (a *AuditIndex) RecentByType(eventType string, n int) ([]AuditEventModel, error) {
	var rows []AuditEventModel
	q := a.db.Order("timestamp DESC").Limit(n)
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query audit index: %w", err)
	}
	return rows, nil
}

// Close releases the underlying sqlite connection.
func (a *AuditIndex) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
