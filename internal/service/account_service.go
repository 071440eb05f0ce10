package service

import (
	"context"
	"fmt"
	"log"

	"smartjar/internal/api"
	"smartjar/internal/validation"
)

// RegistrationInput represents data required to create an account.
type RegistrationInput struct {
	Username    string `validate:"required,min=2"`
	Email       string `validate:"required,email"`
	Password    string `validate:"required,min=6"`
	IsDependent bool
}

// AccountService wraps registration, profile and ward management.
type AccountService struct {
	api     *api.Client
	session *SessionService
}

func NewAccountService(apiClient *api.Client, session *SessionService) *AccountService {
	return &AccountService{api: apiClient, session: session}
}

// Register creates a backend account and returns its id.
func (s *AccountService) Register(ctx context.Context, input RegistrationInput) (int64, error) {
	if err := validation.Struct(input); err != nil {
		return 0, err
	}
	return s.api.Register(ctx, api.RegistrationRequest{
		Username:    input.Username,
		Email:       input.Email,
		Password:    input.Password,
		IsDependent: input.IsDependent,
	})
}

// RegisterWard registers a dependent account and links it to the caretaker.
func (s *AccountService) RegisterWard(ctx context.Context, chatID int64, input RegistrationInput) (int64, error) {
	root := s.session.Current(chatID)
	if root == nil {
		return 0, ErrNoSession
	}

	input.IsDependent = true
	wardID, err := s.Register(ctx, input)
	if err != nil {
		return 0, err
	}
	if err := s.api.AssociateUsers(ctx, root.ID, wardID); err != nil {
		return 0, fmt.Errorf("link ward %d: %w", wardID, err)
	}
	log.Printf("[info] ward %d registered for caretaker %d", wardID, root.ID)

	if _, err := s.session.Reestablish(ctx, chatID); err != nil {
		log.Printf("reestablish after ward registration: %v", err)
	}
	return wardID, nil
}

// InviteWard asks the backend to email a supervision invitation to an
// existing account and returns the confirmation code for local matching.
func (s *AccountService) InviteWard(ctx context.Context, email string) (*api.MonitoringInvite, error) {
	if !validation.Email(email) {
		return nil, fmt.Errorf("invalid email %q", email)
	}
	return s.api.InviteWard(ctx, email)
}

// ConfirmWard links the invited account to the caretaker after the code was
// matched.
func (s *AccountService) ConfirmWard(ctx context.Context, chatID int64, spcOwnerID int64) error {
	root := s.session.Current(chatID)
	if root == nil {
		return ErrNoSession
	}
	if err := s.api.AssociateUsers(ctx, root.ID, spcOwnerID); err != nil {
		return err
	}
	log.Printf("[info] ward %d linked to caretaker %d", spcOwnerID, root.ID)

	if _, err := s.session.Reestablish(ctx, chatID); err != nil {
		log.Printf("reestablish after ward confirmation: %v", err)
	}
	return nil
}

// Rename updates the account's display name.
func (s *AccountService) Rename(ctx context.Context, chatID int64, name string) error {
	root := s.session.Current(chatID)
	if root == nil {
		return ErrNoSession
	}
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if err := s.api.ChangeUsername(ctx, root.ID, name); err != nil {
		return err
	}
	if _, err := s.session.Refresh(ctx, chatID); err != nil {
		log.Printf("refresh after rename: %v", err)
	}
	return nil
}

// SetDependency toggles whether the account manages its own dispensers.
func (s *AccountService) SetDependency(ctx context.Context, chatID int64, isDependent bool) error {
	root := s.session.Current(chatID)
	if root == nil {
		return ErrNoSession
	}
	if err := s.api.ChangeDependency(ctx, root.ID, isDependent); err != nil {
		return err
	}
	if _, err := s.session.Refresh(ctx, chatID); err != nil {
		log.Printf("refresh after dependency change: %v", err)
	}
	return nil
}

// RecoveryCode requests a password-recovery code for the email.
func (s *AccountService) RecoveryCode(ctx context.Context, email string) (string, error) {
	if !validation.Email(email) {
		return "", fmt.Errorf("invalid email %q", email)
	}
	return s.api.PasswordRecoveryCode(ctx, email)
}

// ChangePassword sets a new password after the recovery code was confirmed.
func (s *AccountService) ChangePassword(ctx context.Context, email, password string) error {
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	return s.api.ChangePassword(ctx, email, password)
}
