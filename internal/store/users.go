package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// Users exposes account, provider/model registration, and auth-token queries.
type Users struct{ s *Store }

// Users returns the users query handle.
func (s *Store) Users() *Users { return &Users{s: s} }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Create inserts a new account. Email uniqueness is enforced case-insensitively
// by the schema's generated email_lower column.
func (u *Users) Create(ctx context.Context, user models.User) error {
	_, err := u.s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, leaderboard_opt_in, onboarding_completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.Role,
		boolToInt(user.LeaderboardOptIn), boolToInt(user.OnboardingCompleted), iso(user.CreatedAt))
	return err
}

const userSelect = `SELECT id, email, password_hash, role, leaderboard_opt_in, onboarding_completed, created_at FROM users`

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var createdAt string
	var optIn, onboarded int
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &optIn, &onboarded, &createdAt); err != nil {
		return nil, err
	}
	user.LeaderboardOptIn = optIn != 0
	user.OnboardingCompleted = onboarded != 0
	user.CreatedAt = mustParse(createdAt)
	return &user, nil
}

// GetByEmail looks up a user case-insensitively (spec §4.1: email is the
// unique login handle, matched without regard to case).
func (u *Users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := u.s.db.QueryRowContext(ctx, userSelect+` WHERE email_lower = ?`, strings.ToLower(email))
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return user, err
}

// Get fetches a user by id.
func (u *Users) Get(ctx context.Context, id string) (*models.User, error) {
	row := u.s.db.QueryRowContext(ctx, userSelect+` WHERE id = ?`, id)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return user, err
}

// SetLeaderboardOptIn toggles public leaderboard visibility for a user's results.
func (u *Users) SetLeaderboardOptIn(ctx context.Context, id string, optIn bool) error {
	_, err := u.s.db.ExecContext(ctx, `UPDATE users SET leaderboard_opt_in = ? WHERE id = ?`, boolToInt(optIn), id)
	return err
}

// CompleteOnboarding marks the one-time onboarding flag.
func (u *Users) CompleteOnboarding(ctx context.Context, id string) error {
	_, err := u.s.db.ExecContext(ctx, `UPDATE users SET onboarding_completed = 1 WHERE id = ?`, id)
	return err
}

// SetPasswordHash overwrites a user's stored bcrypt hash, used by the
// reset-password flow.
func (u *Users) SetPasswordHash(ctx context.Context, id, hash string) error {
	_, err := u.s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	return err
}

// --- Providers / Models -----------------------------------------------------

// UpsertProvider inserts or updates a user's provider registration, keyed on
// (user_id, key).
func (u *Users) UpsertProvider(ctx context.Context, p models.Provider) error {
	_, err := u.s.db.ExecContext(ctx, `
		INSERT INTO providers (id, user_id, key, family, api_base, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET family = excluded.family, api_base = excluded.api_base`,
		p.ID, p.UserID, p.Key, p.Family, p.APIBase, iso(p.CreatedAt))
	return err
}

// ListProvidersForUser returns every provider a user has registered.
func (u *Users) ListProvidersForUser(ctx context.Context, userID string) ([]models.Provider, error) {
	rows, err := u.s.db.QueryContext(ctx, `
		SELECT id, user_id, key, family, api_base, created_at FROM providers WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Provider
	for rows.Next() {
		var p models.Provider
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Key, &p.Family, &p.APIBase, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = mustParse(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertModel inserts or updates a (provider, litellm_id) registration.
func (u *Users) UpsertModel(ctx context.Context, m models.Model) error {
	skipJSON, err := json.Marshal(m.SkipParams)
	if err != nil {
		return err
	}
	_, err = u.s.db.ExecContext(ctx, `
		INSERT INTO models (id, provider_id, litellm_id, context_window, max_output_tokens, skip_params_json, display_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id, litellm_id) DO UPDATE SET
			context_window = excluded.context_window,
			max_output_tokens = excluded.max_output_tokens,
			skip_params_json = excluded.skip_params_json,
			display_name = excluded.display_name`,
		m.ID, m.ProviderID, m.LitellmID, m.ContextWindow, m.MaxOutputTokens, string(skipJSON), m.DisplayName)
	return err
}

// ListModelsForProvider returns every model registered under a provider.
func (u *Users) ListModelsForProvider(ctx context.Context, providerID string) ([]models.Model, error) {
	rows, err := u.s.db.QueryContext(ctx, `
		SELECT id, provider_id, litellm_id, context_window, max_output_tokens, skip_params_json, display_name
		FROM models WHERE provider_id = ?`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Model
	for rows.Next() {
		var m models.Model
		var skipJSON string
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.LitellmID, &m.ContextWindow, &m.MaxOutputTokens, &skipJSON, &m.DisplayName); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(skipJSON), &m.SkipParams)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Rate limit overrides ----------------------------------------------------

// GetRateLimitOverride returns a user's override row, or nil if the user has
// no customization and defaults apply (spec §4.3).
func (u *Users) GetRateLimitOverride(ctx context.Context, userID string) (*models.RateLimitOverride, error) {
	row := u.s.db.QueryRowContext(ctx, `
		SELECT user_id, benchmarks_per_hour, max_concurrent FROM rate_limits WHERE user_id = ?`, userID)
	var o models.RateLimitOverride
	err := row.Scan(&o.UserID, &o.BenchmarksPerHour, &o.MaxConcurrent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// SetRateLimitOverride upserts a per-user override, used by the admin surface.
func (u *Users) SetRateLimitOverride(ctx context.Context, o models.RateLimitOverride) error {
	_, err := u.s.db.ExecContext(ctx, `
		INSERT INTO rate_limits (user_id, benchmarks_per_hour, max_concurrent) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			benchmarks_per_hour = excluded.benchmarks_per_hour,
			max_concurrent = excluded.max_concurrent`,
		o.UserID, o.BenchmarksPerHour, o.MaxConcurrent)
	return err
}

// --- Audit log ----------------------------------------------------------------

// RecordAudit appends a best-effort audit row; callers should not fail the
// triggering request if this errors.
func (u *Users) RecordAudit(ctx context.Context, entry models.AuditLog) error {
	_, err := u.s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Action, entry.Detail, iso(entry.CreatedAt))
	return err
}

// --- Tokens ---------------------------------------------------------------

// CreateRefreshToken persists a hashed refresh token.
func (u *Users) CreateRefreshToken(ctx context.Context, t models.RefreshToken) error {
	_, err := u.s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, iso(t.ExpiresAt), iso(t.CreatedAt))
	return err
}

// GetRefreshTokenByHash looks up an unexpired refresh token by its hash.
func (u *Users) GetRefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	row := u.s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE token_hash = ?`, hash)
	var t models.RefreshToken
	var expiresAt, createdAt string
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &expiresAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	t.ExpiresAt = mustParse(expiresAt)
	t.CreatedAt = mustParse(createdAt)
	return &t, nil
}

// DeleteRefreshToken revokes a single refresh token (used on logout/rotation).
func (u *Users) DeleteRefreshToken(ctx context.Context, id string) error {
	_, err := u.s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = ?`, id)
	return err
}

// CreatePasswordResetToken persists a hashed, single-use reset token.
func (u *Users) CreatePasswordResetToken(ctx context.Context, t models.PasswordResetToken) error {
	_, err := u.s.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, used) VALUES (?, ?, ?, ?, 0)`,
		t.ID, t.UserID, t.TokenHash, iso(t.ExpiresAt))
	return err
}

// ConsumePasswordResetToken atomically marks a reset token used and returns
// it, failing if it was already used or does not exist.
func (u *Users) ConsumePasswordResetToken(ctx context.Context, hash string) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	err := u.s.WithTx(ctx, func(tx *sql.Tx) error {
		var expiresAt string
		var used int
		row := tx.QueryRowContext(ctx, `
			SELECT id, user_id, token_hash, expires_at, used FROM password_reset_tokens WHERE token_hash = ?`, hash)
		if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &expiresAt, &used); err != nil {
			if err == sql.ErrNoRows {
				return models.ErrNotFound
			}
			return err
		}
		if used != 0 {
			return models.ErrConflict
		}
		t.ExpiresAt = mustParse(expiresAt)
		t.Used = true
		_, err := tx.ExecContext(ctx, `UPDATE password_reset_tokens SET used = 1 WHERE token_hash = ?`, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Judge settings ---------------------------------------------------------

// GetJudgeSettings returns a user's judge defaults, or zero-value if unset.
func (u *Users) GetJudgeSettings(ctx context.Context, userID string) (models.UserJudgeSettings, error) {
	row := u.s.db.QueryRowContext(ctx, `
		SELECT user_id, default_judge_model, custom_instructions FROM user_judge_settings WHERE user_id = ?`, userID)
	var s models.UserJudgeSettings
	err := row.Scan(&s.UserID, &s.DefaultJudgeModel, &s.CustomInstructions)
	if err == sql.ErrNoRows {
		return models.UserJudgeSettings{UserID: userID}, nil
	}
	return s, err
}

// SetJudgeSettings upserts a user's judge defaults.
func (u *Users) SetJudgeSettings(ctx context.Context, s models.UserJudgeSettings) error {
	_, err := u.s.db.ExecContext(ctx, `
		INSERT INTO user_judge_settings (user_id, default_judge_model, custom_instructions) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			default_judge_model = excluded.default_judge_model,
			custom_instructions = excluded.custom_instructions`,
		s.UserID, s.DefaultJudgeModel, s.CustomInstructions)
	return err
}
