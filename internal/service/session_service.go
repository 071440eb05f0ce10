package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"smartjar/internal/api"
	"smartjar/internal/model"
	"smartjar/internal/reminder"
	"smartjar/internal/repository"
)

// ErrNoSession means the chat has not logged in yet.
var ErrNoSession = errors.New("no active session")

// SessionService establishes and restores backend sessions per Telegram chat.
// It holds the in-memory snapshot the rest of the client reads and owns the
// session-establishment recompute trigger.
type SessionService struct {
	api         *api.Client
	sessions    *repository.SessionRepository
	coordinator *reminder.Coordinator

	mu    sync.Mutex
	users map[int64]*model.User
}

func NewSessionService(apiClient *api.Client, sessions *repository.SessionRepository, coordinator *reminder.Coordinator) *SessionService {
	return &SessionService{
		api:         apiClient,
		sessions:    sessions,
		coordinator: coordinator,
		users:       make(map[int64]*model.User),
	}
}

// Login authenticates against the backend, persists the session locally and
// rebuilds the chat's reminder calendar.
func (s *SessionService) Login(ctx context.Context, chatID int64, email, password string) (*model.User, error) {
	user, err := s.api.Auth(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.establish(ctx, chatID, user)
	log.Printf("[info] chat %d: logged in as user %d", chatID, user.ID)
	return user, nil
}

// Current returns the chat's snapshot, nil when not logged in.
func (s *SessionService) Current(chatID int64) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[chatID]
}

// Restore brings back a session after a restart: the stored snapshot is
// refreshed from the backend (falling back to the stored copy when the
// backend is unreachable) and reminders are rebuilt.
func (s *SessionService) Restore(ctx context.Context, chatID int64) (*model.User, error) {
	if user := s.Current(chatID); user != nil {
		return user, nil
	}

	stored, err := s.sessions.Load(ctx, chatID)
	if err != nil {
		return nil, ErrNoSession
	}

	user, err := s.api.GetUser(ctx, stored.ID)
	if err != nil {
		log.Printf("refresh user %d: %v, using stored snapshot", stored.ID, err)
		user = stored
	}
	s.establish(ctx, chatID, user)
	return user, nil
}

// ResumeAll restores every stored session. Run once at startup and on the
// resync interval, mirroring an app resume.
func (s *SessionService) ResumeAll(ctx context.Context) {
	sessions, err := s.sessions.ListAll(ctx)
	if err != nil {
		log.Printf("list sessions: %v", err)
		return
	}
	for _, sess := range sessions {
		user, err := s.api.GetUser(ctx, sess.UserID)
		if err != nil {
			log.Printf("resume chat %d: %v", sess.ChatID, err)
			if user, err = s.sessions.Load(ctx, sess.ChatID); err != nil {
				log.Printf("stored session for chat %d: %v", sess.ChatID, err)
				continue
			}
		}
		s.establish(ctx, sess.ChatID, user)
	}
	log.Printf("[info] resumed %d session(s)", len(sessions))
}

// Refresh re-fetches the snapshot from the backend without touching
// reminders.
func (s *SessionService) Refresh(ctx context.Context, chatID int64) (*model.User, error) {
	user := s.Current(chatID)
	if user == nil {
		return nil, ErrNoSession
	}

	fresh, err := s.api.GetUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, chatID, fresh)
	return fresh, nil
}

// Reestablish refreshes the snapshot and rebuilds the chat's reminder set.
// Invoked after mutations that must show up in the calendar immediately.
func (s *SessionService) Reestablish(ctx context.Context, chatID int64) (*model.User, error) {
	fresh, err := s.Refresh(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.coordinator.Recompute(ctx, chatID, fresh, time.Now())
	return fresh, nil
}

// Logout forgets the session and cancels the chat's reminders.
func (s *SessionService) Logout(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	delete(s.users, chatID)
	s.mu.Unlock()

	if err := s.sessions.Delete(ctx, chatID); err != nil {
		return err
	}
	s.coordinator.CancelAll(ctx, chatID)
	log.Printf("[info] chat %d: logged out", chatID)
	return nil
}

func (s *SessionService) establish(ctx context.Context, chatID int64, user *model.User) {
	s.remember(ctx, chatID, user)
	s.coordinator.Recompute(ctx, chatID, user, time.Now())
}

func (s *SessionService) remember(ctx context.Context, chatID int64, user *model.User) {
	s.mu.Lock()
	s.users[chatID] = user
	s.mu.Unlock()

	if err := s.sessions.Save(ctx, chatID, user); err != nil {
		log.Printf("persist session for chat %d: %v", chatID, err)
	}
}
