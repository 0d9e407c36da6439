package audit

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Event is one session or agent lifecycle record. Tokens and SSH
// credentials are never written here.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Kind      string    `gorm:"index" json:"kind"`
	DeviceID  string    `gorm:"index" json:"device_id"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Log is the sqlite-backed session event log.
type Log struct {
	db *gorm.DB
}

// Open creates (or opens) the audit database at path.
func Open(path string) (*Log, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &Log{db: db}, nil
}

// Record inserts an event. Failures are logged and swallowed: auditing
// must never take down a live session path.
func (l *Log) Record(kind, deviceID, sessionID, userID, detail string) {
	ev := Event{
		Kind:      kind,
		DeviceID:  deviceID,
		SessionID: sessionID,
		UserID:    userID,
		Detail:    detail,
	}
	if err := l.db.Create(&ev).Error; err != nil {
		log.Printf("[audit] record %s for device %s failed: %v", kind, deviceID, err)
	}
}

// Recent returns the newest events, most recent first.
func (l *Log) Recent(limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var events []Event
	if err := l.db.Order("id desc").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the retention window and returns how
// many rows were removed.
func (l *Log) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := l.db.Where("created_at < ?", cutoff).Delete(&Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune audit events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
