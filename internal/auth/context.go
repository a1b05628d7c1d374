package auth

import (
	"context"
	"time"
)

// EmployeeSession is a login session issued by the identity service. Only the SHA-256 hash of
// the bearer token is stored.
type EmployeeSession struct {
	TokenHash  string    `gorm:"type:varchar(64);column:token_hash;primaryKey" json:"-"`
	EmployeeID string    `gorm:"type:varchar(64);column:employee_id;not null;index" json:"employeeId"`
	CompanyID  string    `gorm:"type:varchar(64);column:company_id;not null" json:"companyId"`
	IsAdmin    bool      `gorm:"column:is_admin;not null" json:"isAdmin"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null" json:"expiresAt"`
}

// TableName specifies the database table name for EmployeeSession
func (s *EmployeeSession) TableName() string {
	return "employee_sessions"
}

// AuthContext is the caller identity injected into a request by RequireAuth.
type AuthContext struct {
	EmployeeID string
	CompanyID  string
	IsAdmin    bool
}

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AuthContextKey is the key for storing AuthContext in request context
	AuthContextKey ContextKey = "authContext"
)

// WithAuthContext returns a copy of ctx carrying authCtx.
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, authCtx)
}

// GetAuthContext extracts the AuthContext from a request context.
// Returns nil if the request was not authenticated.
func GetAuthContext(ctx context.Context) *AuthContext {
	authCtx, ok := ctx.Value(AuthContextKey).(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
