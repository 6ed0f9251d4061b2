package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nammalwarsai/skill3-cie/internal/gateway"
	"github.com/nammalwarsai/skill3-cie/internal/middleware"
	"github.com/nammalwarsai/skill3-cie/internal/model"
	"github.com/nammalwarsai/skill3-cie/internal/repository"
	"github.com/nammalwarsai/skill3-cie/internal/utils"
)

// RefreshStore keeps refresh token hashes. *repository.TokenRepo satisfies it.
type RefreshStore interface {
	StoreRefresh(ctx context.Context, s repository.Session, tokenHash string, ttl time.Duration) error
	ConsumeRefresh(ctx context.Context, tokenHash string) (repository.Session, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, username string) error
}

// TokenConfig holds what the auth endpoints need to mint tokens.
type TokenConfig struct {
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthHandler bundles dependencies for auth endpoints. Tokens may be nil,
// in which case logins return only an access token and refresh is
// unavailable.
type AuthHandler struct {
	Cfg    TokenConfig
	GW     *gateway.Gateway
	Tokens RefreshStore
}

func NewAuthHandler(cfg TokenConfig, gw *gateway.Gateway, tokens RefreshStore) *AuthHandler {
	return &AuthHandler{Cfg: cfg, GW: gw, Tokens: tokens}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}
type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type doctorLoginReq struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	DoctorID string `json:"doctor_id"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	User    model.Profile `json:"user"`
	Access  tokenPart     `json:"access"`
	Refresh *tokenPart    `json:"refresh,omitempty"`
}

// Register creates a patient account. The client logs in separately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	prof, err := h.GW.Register(c.Request().Context(), gateway.RegisterInput{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Name:     strings.TrimSpace(req.Name),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": prof})
}

// Login authenticates a patient and returns a token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	prof, err := h.GW.Authenticate(c.Request().Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return h.issue(c, http.StatusOK, prof)
}

// DoctorLogin authenticates a doctor by name, password and staff id.
func (h *AuthHandler) DoctorLogin(c echo.Context) error {
	var req doctorLoginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	prof, err := h.GW.AuthenticateDoctor(c.Request().Context(),
		strings.TrimSpace(req.Name), req.Password, strings.TrimSpace(req.DoctorID))
	if err != nil {
		return respondError(c, err)
	}
	return h.issue(c, http.StatusOK, prof)
}

// Refresh exchanges a refresh token for a new pair. The old token is
// consumed, so replaying it fails.
func (h *AuthHandler) Refresh(c echo.Context) error {
	if h.Tokens == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "refresh tokens unavailable"})
	}
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest(c, "refresh_token required")
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	s, err := h.Tokens.ConsumeRefresh(c.Request().Context(), hash)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}
	if err != nil {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("consume refresh token")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "refresh tokens unavailable"})
	}
	return h.issue(c, http.StatusOK, model.Profile{Username: s.Username, Role: s.Role})
}

// Logout revokes the refresh token in the body, or every refresh token of
// the bearer when no body token is given.
func (h *AuthHandler) Logout(c echo.Context) error {
	if h.Tokens == nil {
		return c.NoContent(http.StatusNoContent)
	}
	var req refreshReq
	_ = c.Bind(&req)
	refreshToken := strings.TrimSpace(req.RefreshToken)
	ctx := c.Request().Context()

	if refreshToken != "" {
		err := h.Tokens.RevokeByHash(ctx, utils.HashRefreshRaw(refreshToken))
		if errors.Is(err, repository.ErrTokenNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	}

	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		p, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		if err := h.Tokens.RevokeAllForUser(ctx, p.Username); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	}
	return badRequest(c, "provide Authorization header or refresh_token")
}

// Me returns the authenticated principal.
func (h *AuthHandler) Me(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, echo.Map{"username": p.Username, "role": p.Role})
}

func (h *AuthHandler) issue(c echo.Context, status int, prof model.Profile) error {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, prof.Username, prof.Role, h.Cfg.AccessTTL)
	if err != nil {
		return respondError(c, err)
	}
	resp := authResp{User: prof, Access: tokenPart{Token: access.Token, Expires: access.Exp}}
	if h.Tokens == nil {
		return c.JSON(status, resp)
	}

	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTL)
	if err != nil {
		return respondError(c, err)
	}
	sess := repository.Session{Username: prof.Username, Role: prof.Role}
	if err := h.Tokens.StoreRefresh(c.Request().Context(), sess, utils.HashRefreshRaw(refresh.Raw), h.Cfg.RefreshTTL); err != nil {
		// Access tokens still work without Redis.
		zerolog.Ctx(c.Request().Context()).Warn().Err(err).Msg("refresh token not stored")
		return c.JSON(status, resp)
	}
	resp.Refresh = &tokenPart{Token: refresh.Raw, Expires: refresh.Exp}
	return c.JSON(status, resp)
}
