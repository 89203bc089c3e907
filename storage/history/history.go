// Package history persists accepted-request records for replay detection and
// throttle accounting.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/pokemon918/ntbl-api-sub003/gateway/auth"
)

// RequestHistory is one accepted request. The unique index on the who token
// is what makes replay detection atomic: two concurrent identical requests
// race on the insert and exactly one wins.
type RequestHistory struct {
	ID         uint      `gorm:"primaryKey"`
	Who        string    `gorm:"size:1024;uniqueIndex;not null"`
	UserRef    string    `gorm:"size:64;index:idx_request_histories_ref_time"`
	ClientTime time.Time `gorm:"index:idx_request_histories_ref_time"`
	CreatedAt  time.Time
}

// Store implements auth.HistoryStore on a gorm database.
type Store struct {
	db *gorm.DB
}

// NewStore wraps the provided database. AutoMigrate must have been run.
func NewStore(db *gorm.DB) *Store {
	if db == nil {
		panic("history store requires a database")
	}
	return &Store{db: db}
}

// AutoMigrate creates the request history schema, including the unique index
// replay detection depends on.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&RequestHistory{})
}

// InsertIfAbsent appends the record, reporting false without error when an
// identical who token was already recorded.
func (s *Store) InsertIfAbsent(ctx context.Context, record auth.RequestRecord) (bool, error) {
	row := RequestHistory{
		Who:        record.Who,
		UserRef:    record.UserRef,
		ClientTime: record.ClientTime,
		CreatedAt:  record.CreatedAt,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return true, nil
	}
	if isDuplicate(err) {
		return false, nil
	}
	return false, fmt.Errorf("insert request history: %w", err)
}

// CountBetween counts the reference's records with a client time inside
// [from, to], both ends inclusive.
func (s *Store) CountBetween(ctx context.Context, userRef string, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&RequestHistory{}).
		Where("user_ref = ? AND client_time >= ? AND client_time <= ?", userRef, from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count request history: %w", err)
	}
	return count, nil
}

// DeleteBefore prunes records created before the cutoff. The table is
// append-only otherwise; pruning is the only deletion path.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&RequestHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune request history: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// isDuplicate matches uniqueness violations across drivers; the postgres
// driver translates them to gorm.ErrDuplicatedKey, the sqlite driver used in
// tests surfaces the raw constraint message.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
