package models

import (
	"fmt"
	"time"
)

const (
	ProviderCanvas = "canvas"
	ProviderGitlab = "gitlab"
)

type User struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	// Key is the natural key used at creation time, e.g. "canvas#1234".
	Key        string `gorm:"uniqueIndex:idx_user_key"`
	Lastname   string
	Firstname  string
	Email      string
	IsAdmin    bool
	Locale     string
	ExpiryDate *time.Time
	Password   string `json:"-"`
}

func (u *User) IsExpired() bool {
	return u.ExpiryDate != nil && u.ExpiryDate.Before(time.Now())
}

// UserKey builds the natural key for a user first seen via an external provider.
func UserKey(provider string, externalId int64) string {
	return fmt.Sprintf("%s#%d", provider, externalId)
}

// Account binds a User to one external identity. External ids and usernames
// are unique per provider, not globally, and a user holds at most one
// account per provider.
type Account struct {
	ID            int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProviderName  string `gorm:"uniqueIndex:idx_account_provider_user;uniqueIndex:idx_account_provider_external;uniqueIndex:idx_account_provider_username"`
	UserID        int64  `gorm:"uniqueIndex:idx_account_provider_user"`
	ExternalID    *int64 `gorm:"uniqueIndex:idx_account_provider_external"`
	Username      string `gorm:"uniqueIndex:idx_account_provider_username"`
	Email         string
	Fullname      string
	Note          string
	EmailVerified bool
	LastLogin     *time.Time
	AvatarURL     string
	ExpiryDate    *time.Time
}

func (a *Account) IsExpired() bool {
	return a.ExpiryDate != nil && a.ExpiryDate.Before(time.Now())
}

func (db *Database) GetUserByKey(key string) (*User, error) {
	var user User
	if err := db.GormDB.Where("key = ?", key).First(&user).Error; err != nil {
		return nil, wrapStoreError(err)
	}
	return &user, nil
}

// GetUserByAccount resolves a provider identity to the internal user, e.g.
// (gitlab, 1234) to whoever owns that gitlab account.
func (db *Database) GetUserByAccount(provider string, externalId int64) (*User, error) {
	var user User
	err := db.GormDB.
		Joins("INNER JOIN accounts ON accounts.user_id = users.id").
		Where("accounts.provider_name = ? AND accounts.external_id = ?", provider, externalId).
		First(&user).Error
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &user, nil
}

func (db *Database) GetUserByUsername(provider string, username string) (*User, error) {
	var user User
	err := db.GormDB.
		Joins("INNER JOIN accounts ON accounts.user_id = users.id").
		Where("accounts.provider_name = ? AND accounts.username = ?", provider, username).
		First(&user).Error
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &user, nil
}

func (db *Database) GetAccount(userId int64, provider string) (*Account, error) {
	var acc Account
	err := db.GormDB.Where("user_id = ? AND provider_name = ?", userId, provider).First(&acc).Error
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &acc, nil
}
