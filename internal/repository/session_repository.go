package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"gorm.io/gorm"

	"smartjar/internal/model"
)

const nonceSize = 24

// SessionRepository persists one encrypted account snapshot per Telegram
// chat. The blob is sealed with a key derived from the configured secret, so
// a leaked database file does not expose account data.
type SessionRepository struct {
	db  *gorm.DB
	key [32]byte
}

func NewSessionRepository(db *gorm.DB, secret string) *SessionRepository {
	return &SessionRepository{db: db, key: sha256.Sum256([]byte(secret))}
}

// Save upserts the chat's session with a freshly sealed snapshot.
func (r *SessionRepository) Save(ctx context.Context, chatID int64, user *model.User) error {
	blob, err := r.seal(user)
	if err != nil {
		return err
	}

	var session model.Session
	db := r.db.WithContext(ctx)
	err = db.Where("chat_id = ?", chatID).First(&session).Error
	switch {
	case err == nil:
		session.UserID = user.ID
		session.Blob = blob
		if err := db.Save(&session).Error; err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	case err == gorm.ErrRecordNotFound:
		session = model.Session{ChatID: chatID, UserID: user.ID, Blob: blob}
		if err := db.Create(&session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find session: %w", err)
	}
}

// Load returns the stored snapshot for the chat.
func (r *SessionRepository) Load(ctx context.Context, chatID int64) (*model.User, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&session).Error; err != nil {
		return nil, err
	}
	return r.open(session.Blob)
}

// Delete forgets the chat's session.
func (r *SessionRepository) Delete(ctx context.Context, chatID int64) error {
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).
		Delete(&model.Session{}).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListAll returns every stored session without decrypting the blobs.
func (r *SessionRepository) ListAll(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	if err := r.db.WithContext(ctx).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SessionRepository) seal(user *model.User) ([]byte, error) {
	payload, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("session nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], payload, &nonce, &r.key), nil
}

func (r *SessionRepository) open(blob []byte) (*model.User, error) {
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("session blob truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	payload, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, &r.key)
	if !ok {
		return nil, fmt.Errorf("decrypt session blob")
	}
	var user model.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &user, nil
}
