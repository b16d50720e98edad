// Package historydb keeps a local record of unlock attempts and the
// last seen status snapshot per account. Nothing here is authoritative:
// session state is always rebuilt from the ledger on reconnect.
package historydb

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/veilprotocol/veil-wallet/internal/ledger"
)

// DB is the global SQLite database instance
var DB *gorm.DB

// InitDB opens (or creates) the SQLite history database and migrates
// the schema.
func InitDB(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %v", err)
		}
	}

	// Configure GORM to be less verbose
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}

	err = DB.AutoMigrate(
		&AttemptRecord{},
		&StatusCache{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %v", err)
	}

	log.Println("History database initialized successfully")
	return nil
}

// RecordCommit stores a confirmed commit attempt.
func RecordCommit(account, txRef string) error {
	return DB.Create(&AttemptRecord{
		Account:   account,
		Kind:      "commit",
		Success:   true,
		TxRef:     txRef,
		CreatedAt: time.Now(),
	}).Error
}

// RecordReveal stores a completed reveal attempt, success or protocol
// rejection alike.
func RecordReveal(account string, outcome ledger.RevealOutcome) error {
	rec := AttemptRecord{
		Account:   account,
		Kind:      "reveal",
		Success:   outcome.Success,
		TxRef:     outcome.TxRef,
		CreatedAt: time.Now(),
	}
	if !outcome.Success {
		rec.Reason = outcome.Reason.String()
	}
	return DB.Create(&rec).Error
}

// RecordTransfer stores a confirmed transfer.
func RecordTransfer(account, txRef string) error {
	return DB.Create(&AttemptRecord{
		Account:   account,
		Kind:      "transfer",
		Success:   true,
		TxRef:     txRef,
		CreatedAt: time.Now(),
	}).Error
}

// GetHistory returns the most recent attempts for an account, newest
// first.
func GetHistory(account string, limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []AttemptRecord
	result := DB.Where("account = ?", account).
		Order("created_at desc").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query history: %v", result.Error)
	}
	return records, nil
}

// SaveStatusCache upserts the last seen snapshot for an account.
func SaveStatusCache(account string, status ledger.UnlockStatus) error {
	cache := StatusCache{
		Account:         account,
		UnlockedUntil:   status.UnlockedUntil,
		UnlockedAmount:  status.UnlockedAmount,
		NextAttemptTime: status.NextAttemptTime,
		HasCommit:       status.HasCommit,
		UpdatedAt:       time.Now(),
	}
	return DB.Save(&cache).Error
}

// GetStatusCache returns the last cached snapshot for an account, if
// one exists.
func GetStatusCache(account string) (*StatusCache, error) {
	var cache StatusCache
	result := DB.Where("account = ?", account).First(&cache)
	if result.Error != nil {
		return nil, result.Error
	}
	return &cache, nil
}

// ClearStatusCache drops the cached snapshot for an account. Called on
// disconnect so nothing stale survives to the next connection.
func ClearStatusCache(account string) error {
	return DB.Where("account = ?", account).Delete(&StatusCache{}).Error
}
