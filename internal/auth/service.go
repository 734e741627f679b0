package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/cinemate-server/internal/store"
)

// Session is the outcome of a successful login.
type Session struct {
	UserID string
	Name   string
	Token  string
}

// Service provides authentication operations.
type Service struct {
	store       store.UserStore
	jwtConfig   *JWTConfig
	telegramBot string
	now         func() time.Time
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig, telegramBotToken string) *Service {
	return &Service{
		store:       userStore,
		jwtConfig:   jwtConfig,
		telegramBot: telegramBotToken,
		now:         time.Now,
	}
}

// TelegramLogin verifies a widget payload, finds or creates the user keyed by
// the Telegram id and issues a session token.
func (s *Service) TelegramLogin(ctx context.Context, payload TelegramPayload) (*Session, error) {
	if err := VerifyTelegram(payload, s.telegramBot, s.now()); err != nil {
		return nil, err
	}

	userID := payload.ID()
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get user: %w", err)
		}
		user, err = s.store.CreateUser(ctx, userID, payload.FirstName())
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Name)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Session{UserID: user.ID, Name: user.Name, Token: token}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
