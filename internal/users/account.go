package users

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAccountMissing indicates a counter update matched no account row.
var ErrAccountMissing = errors.New("users: account row missing")

// Account aggregates per-identity moderation state and like counters.
type Account struct {
	UserID        int64 `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	UploadBanned  bool  `gorm:"column:upload_banned;not null;default:false"`
	LikesReceived int64 `gorm:"column:likes_received;not null;default:0"`
	LikesSent     int64 `gorm:"column:likes_send;not null;default:0"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "users"
}

// EnsureAccounts creates missing account rows for the given identities; existing rows are left untouched.
func EnsureAccounts(tx *gorm.DB, userIDs ...int64) error {
	seen := make(map[int64]struct{}, len(userIDs))
	accounts := make([]Account, 0, len(userIDs))
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		accounts = append(accounts, Account{UserID: userID})
	}
	if len(accounts) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&accounts).Error
}

// AddLikeCounters credits likes_send on the liker and likes_received on the owner.
func AddLikeCounters(tx *gorm.DB, likerID, ownerID int64, count int) error {
	if err := addCounter(tx, likerID, "likes_send", count); err != nil {
		return err
	}
	return addCounter(tx, ownerID, "likes_received", count)
}

func addCounter(tx *gorm.DB, userID int64, column string, count int) error {
	result := tx.Model(&Account{}).
		Where("user_id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + ?", count))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("%w: %d", ErrAccountMissing, userID)
	}
	return nil
}
