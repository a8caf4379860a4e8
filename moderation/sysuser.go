package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"modgate/models"
)

const (
	SystemUsername  = "moderation_api_bot"
	systemName      = "Moderation API Bot"
	systemEmail     = "no-reply@moderationapi.com"
	systemAvatarURL = "https://moderationapi.com/logo-round.png"
)

// SystemAccount resolves the moderation bot account once per process.
// Failed lookups are not cached, so a later call retries.
type SystemAccount struct {
	store  AccountStore
	logger *slog.Logger

	mu   sync.Mutex
	user *models.User
}

// NewSystemAccount creates an unresolved account cell.
func NewSystemAccount(store AccountStore, logger *slog.Logger) *SystemAccount {
	return &SystemAccount{store: store, logger: logger.With("component", "system_account")}
}

// Get returns the bot account, creating it on first use.
func (s *SystemAccount) Get(ctx context.Context) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		return s.user, nil
	}

	user, err := s.store.FindUserByUsername(ctx, SystemUsername)
	if errors.Is(err, models.ErrNotFound) {
		user, err = s.create(ctx)
	}
	if err != nil {
		return nil, err
	}
	if user.ID <= 0 {
		return nil, fmt.Errorf("system account %q has invalid id %d", SystemUsername, user.ID)
	}
	s.user = user
	return user, nil
}

func (s *SystemAccount) create(ctx context.Context) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash system account password: %w", err)
	}
	now := time.Now().UTC()
	user := &models.User{
		Username:     SystemUsername,
		Name:         systemName,
		Email:        systemEmail,
		PasswordHash: string(hash),
		Active:       true,
		Approved:     true,
		TrustLevel:   4,
		EmailLevel:   models.EmailLevelNever,
		AvatarURL:    systemAvatarURL,
		CreatedAt:    now,
		LastSeenAt:   now,
	}
	id, err := s.store.CreateUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create system account: %w", err)
	}
	user.ID = id
	s.logger.Info("Created moderation system account", "user_id", id)
	return user, nil
}
