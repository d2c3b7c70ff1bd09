package server

import (
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/auth"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string          `json:"id"`
		Email string          `json:"email"`
		Role  models.UserRole `json:"role"`
	} `json:"user"`
}

func (s *Server) issueTokens(c *echo.Context, user *models.User) error {
	access, err := s.jwtSvc.Generate(user)
	if err != nil {
		return mapServiceError(err)
	}
	refreshToken, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return mapServiceError(err)
	}
	now := time.Now().UTC()
	if err := s.store.Users().CreateRefreshToken(c.Request().Context(), models.RefreshToken{
		ID:        store.NewID(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(auth.RefreshTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return mapServiceError(err)
	}

	resp := authResponse{AccessToken: access, RefreshToken: refreshToken}
	resp.User.ID = user.ID
	resp.User.Email = user.Email
	resp.User.Role = user.Role
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) registerHandler(c *echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || len(req.Password) < 8 {
		return mapServiceError(models.NewValidationError("password", "email is required and password must be at least 8 characters"))
	}

	if _, err := s.store.Users().GetByEmail(c.Request().Context(), email); err == nil {
		return mapServiceError(models.ErrAlreadyExists)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return mapServiceError(err)
	}
	user := models.User{
		ID:           store.NewID(),
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Users().Create(c.Request().Context(), user); err != nil {
		return mapServiceError(err)
	}
	return s.issueTokens(c, &user)
}

func (s *Server) loginHandler(c *echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, err := s.store.Users().GetByEmail(c.Request().Context(), req.Email)
	if err != nil || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
	}
	return s.issueTokens(c, user)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refreshHandler(c *echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh_token is required")
	}
	ctx := c.Request().Context()
	rt, err := s.store.Users().GetRefreshTokenByHash(ctx, auth.HashToken(req.RefreshToken))
	if err != nil || rt.ExpiresAt.Before(time.Now().UTC()) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired refresh token")
	}
	user, err := s.store.Users().Get(ctx, rt.UserID)
	if err != nil {
		return mapServiceError(err)
	}
	// Rotate: the old refresh token is single-use.
	_ = s.store.Users().DeleteRefreshToken(ctx, rt.ID)
	return s.issueTokens(c, user)
}

func (s *Server) logoutHandler(c *echo.Context) error {
	var req refreshRequest
	_ = c.Bind(&req)
	if req.RefreshToken != "" {
		if rt, err := s.store.Users().GetRefreshTokenByHash(c.Request().Context(), auth.HashToken(req.RefreshToken)); err == nil {
			_ = s.store.Users().DeleteRefreshToken(c.Request().Context(), rt.ID)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) meHandler(c *echo.Context) error {
	user, err := s.store.Users().Get(c.Request().Context(), userIDFromContext(c))
	if err != nil {
		return mapServiceError(err)
	}
	user.PasswordHash = ""
	return c.JSON(http.StatusOK, user)
}

func (s *Server) completeOnboardingHandler(c *echo.Context) error {
	if err := s.store.Users().CompleteOnboarding(c.Request().Context(), userIDFromContext(c)); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type leaderboardOptInRequest struct {
	OptIn bool `json:"opt_in"`
}

func (s *Server) setLeaderboardOptInHandler(c *echo.Context) error {
	var req leaderboardOptInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.Users().SetLeaderboardOptIn(c.Request().Context(), userIDFromContext(c), req.OptIn); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// forgotPasswordHandler always returns 204 regardless of whether the email
// is registered, so the endpoint cannot be used to enumerate accounts.
func (s *Server) forgotPasswordHandler(c *echo.Context) error {
	var req forgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	user, err := s.store.Users().GetByEmail(ctx, req.Email)
	if err == nil {
		_, hash, genErr := auth.NewOpaqueToken()
		if genErr == nil {
			_ = s.store.Users().CreatePasswordResetToken(ctx, models.PasswordResetToken{
				ID:        store.NewID(),
				UserID:    user.ID,
				TokenHash: hash,
				ExpiresAt: time.Now().UTC().Add(auth.PasswordResetTokenTTL),
			})
		}
		// Delivering the reset link by email is out of scope; the token
		// would be emailed here in a production deployment.
	}
	return c.NoContent(http.StatusNoContent)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) resetPasswordHandler(c *echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil || len(req.NewPassword) < 8 {
		return mapServiceError(models.NewValidationError("new_password", "must be at least 8 characters"))
	}
	ctx := c.Request().Context()
	rt, err := s.store.Users().ConsumePasswordResetToken(ctx, auth.HashToken(req.Token))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired reset token")
	}
	if rt.ExpiresAt.Before(time.Now().UTC()) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired reset token")
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.store.Users().SetPasswordHash(ctx, rt.UserID, hash); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
