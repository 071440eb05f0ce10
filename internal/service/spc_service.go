package service

import (
	"context"
	"fmt"
	"log"

	"smartjar/internal/api"
	"smartjar/internal/model"
)

// SpcBinding says which family member a dispenser belongs to.
type SpcBinding struct {
	UserID   int64
	Username string
	Serial   string
}

// SpcService wraps dispenser workflows.
type SpcService struct {
	api     *api.Client
	session *SessionService
}

func NewSpcService(apiClient *api.Client, session *SessionService) *SpcService {
	return &SpcService{api: apiClient, session: session}
}

// Bind attaches a dispenser to a family member. The ownership check comes
// first: a serial already bound elsewhere is rejected before any mutation.
func (s *SpcService) Bind(ctx context.Context, chatID int64, serial string, userID int64) error {
	owned, err := s.api.SpcOwned(ctx, serial)
	if err != nil {
		return err
	}
	if owned {
		return fmt.Errorf("dispenser %s is already bound to an account", serial)
	}
	if err := s.api.BindSpc(ctx, serial, userID); err != nil {
		return err
	}
	log.Printf("[info] dispenser %s bound to user %d", serial, userID)

	if _, err := s.session.Refresh(ctx, chatID); err != nil {
		log.Printf("refresh after dispenser bind: %v", err)
	}
	return nil
}

// Unbind releases a dispenser unless a course still references it.
func (s *SpcService) Unbind(ctx context.Context, chatID int64, serial string) error {
	root := s.session.Current(chatID)
	if root == nil {
		return ErrNoSession
	}
	if InUse(root, serial) {
		return fmt.Errorf("dispenser %s is still used by a course", serial)
	}
	if err := s.api.UnbindSpc(ctx, serial); err != nil {
		return err
	}
	log.Printf("[info] dispenser %s unbound", serial)

	if _, err := s.session.Refresh(ctx, chatID); err != nil {
		log.Printf("refresh after dispenser unbind: %v", err)
	}
	return nil
}

// Ring triggers the dispenser's locator signal.
func (s *SpcService) Ring(ctx context.Context, serial string) error {
	return s.api.RingSpc(ctx, serial)
}

// Bindings lists dispenser ownership across the family. Supervised members
// who are not dependent do not manage dispensers themselves and are skipped.
func Bindings(root *model.User) []SpcBinding {
	var bindings []SpcBinding
	for _, user := range root.All() {
		if user.HasCaretaker && !user.IsDependent {
			continue
		}
		for _, serial := range user.SpcSerials {
			bindings = append(bindings, SpcBinding{
				UserID:   user.ID,
				Username: user.Username,
				Serial:   serial,
			})
		}
	}
	return bindings
}

// InUse reports whether any course in the family references the serial.
func InUse(root *model.User, serial string) bool {
	for _, user := range root.All() {
		for _, crs := range user.Courses {
			if crs.Spc == serial {
				return true
			}
		}
	}
	return false
}
