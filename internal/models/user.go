package models

import "time"

// UserRole is the closed set of privilege levels.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// User owns every other entity via FK cascade (spec §3).
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Role                UserRole
	LeaderboardOptIn    bool
	OnboardingCompleted bool
	CreatedAt           time.Time
}

// Provider is a user-scoped, normalized LLM provider registration.
type Provider struct {
	ID        string
	UserID    string
	Key       string
	Family    string // prefix family used by the LLM call shim (openai, anthropic, ...)
	APIBase   string
	CreatedAt time.Time
}

// Model is a normalized (provider, litellm_id) pair.
type Model struct {
	ID              string
	ProviderID      string
	LitellmID       string
	ContextWindow    int
	MaxOutputTokens *int
	SkipParams      []string // decoded from the legacy JSON text column on read
	DisplayName     string
}

// Target identifies a concrete (provider_key, model_id) endpoint — the
// compound key spec §4.6 requires because model_id alone is not unique
// across providers.
type Target struct {
	ProviderKey string
	ModelID     string
}

// Key renders the cross-provider index key "provider_key::model_id".
func (t Target) Key() string {
	return t.ProviderKey + "::" + t.ModelID
}

// RateLimitOverride is a per-user override of the default rate policy.
type RateLimitOverride struct {
	UserID            string
	BenchmarksPerHour *int
	MaxConcurrent     *int
}

// AuditLog is a best-effort record of user actions; user_id is SET NULL on
// account deletion so audit trails survive it (spec §4.1).
type AuditLog struct {
	ID        string
	UserID    *string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// RefreshToken backs the 7-day refresh-token cookie flow (auth internals are
// out of scope; only the row shape this component reads/writes is in scope).
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordResetToken backs the forgot/reset password flow.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
}

// UserJudgeSettings holds per-user defaults for judge invocations.
type UserJudgeSettings struct {
	UserID            string
	DefaultJudgeModel string
	CustomInstructions string
}
