package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"anitrack/internal/models"
	"anitrack/internal/repository"
	"anitrack/internal/timeutil"
)

const sessionTTL = 30 * 24 * time.Hour

// ErrInvalidCredentials marks a failed login; handlers map it to 401.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService issues and resolves opaque bearer session tokens.
type AuthService struct {
	userRepo *repository.UserRepository
}

// NewAuthService creates a new AuthService
func NewAuthService(userRepo *repository.UserRepository) *AuthService {
	return &AuthService{userRepo: userRepo}
}

// Register creates a user and opens a session for it
func (s *AuthService) Register(username, email, password string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" {
		return nil, "", invalid("username and email are required")
	}
	if len(password) < 8 {
		return nil, "", invalid("password must be at least 8 characters")
	}

	existing, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, "", invalid("username %q is taken", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.openSession(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies credentials and opens a session
func (s *AuthService) Login(username, password string) (*models.User, string, error) {
	user, err := s.userRepo.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		return nil, "", fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.openSession(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// UserFromToken resolves a bearer token to its user, nil when the token is
// unknown or expired.
func (s *AuthService) UserFromToken(token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}
	return s.userRepo.GetUserByToken(token)
}

// Logout removes the session for a token
func (s *AuthService) Logout(token string) error {
	return s.userRepo.DeleteSession(token)
}

func (s *AuthService) openSession(userID int64) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token := hex.EncodeToString(raw)

	if err := s.userRepo.CreateSession(token, userID, timeutil.Now().Add(sessionTTL)); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return token, nil
}
