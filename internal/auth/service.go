package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionExpired = errors.New("session expired")
)

// AuthService resolves bearer tokens to employee sessions.
type AuthService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuthService creates a new AuthService instance
func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{
		db:  db,
		now: time.Now,
	}
}

// HashToken returns the stored form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ResolveSession looks up the session for token. Unknown tokens yield ErrInvalidSession and
// sessions past their expiry yield ErrSessionExpired.
func (as *AuthService) ResolveSession(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrInvalidSession)
	}

	var session EmployeeSession
	result := as.db.WithContext(ctx).Where("token_hash = ?", HashToken(token)).First(&session)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		slog.Error("failed to fetch employee session from database", "error", result.Error)
		return nil, fmt.Errorf("failed to fetch employee session: %w", result.Error)
	}

	if !session.ExpiresAt.After(as.now()) {
		slog.Debug("employee session expired",
			"employee_id", session.EmployeeID,
			"expired_at", session.ExpiresAt,
		)
		return nil, ErrSessionExpired
	}

	return &AuthContext{
		EmployeeID: session.EmployeeID,
		CompanyID:  session.CompanyID,
		IsAdmin:    session.IsAdmin,
	}, nil
}
