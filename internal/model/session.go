package model

import "time"

// Session binds a Telegram chat to a backend account. Blob holds the
// encrypted JSON snapshot of the root user.
type Session struct {
	ID        uint  `gorm:"primaryKey"`
	ChatID    int64 `gorm:"uniqueIndex"`
	UserID    int64 `gorm:"index"`
	Blob      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
