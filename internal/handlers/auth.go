package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/neogan74/rentguard/internal/identity"
	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/metrics"
	"github.com/neogan74/rentguard/internal/middleware"
	"github.com/neogan74/rentguard/internal/token"
)

// TokenType is the scheme clients send issued tokens with.
const TokenType = "Bearer"

// AuthHandler issues tokens and reports the caller's identity.
type AuthHandler struct {
	codec *token.Codec
	users *identity.Users
	now   func() time.Time
}

func NewAuthHandler(codec *token.Codec, users *identity.Users) *AuthHandler {
	return &AuthHandler{
		codec: codec,
		users: users,
		now:   time.Now,
	}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents the login response body
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// Login checks credentials and returns a signed token
// POST /api/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.BadRequest(c, "invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return middleware.BadRequest(c, "username and password are required")
	}

	principal, err := h.users.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return middleware.Unauthorized(c, "invalid username or password")
		}
		return middleware.InternalServerError(c, "failed to authenticate")
	}

	raw, err := h.codec.Sign(principal.Subject, h.now())
	if err != nil {
		middleware.GetLogger(c).Error("Failed to sign token",
			logger.String("subject", principal.Subject),
			logger.Error(err))
		return middleware.InternalServerError(c, "failed to generate token")
	}
	metrics.TokensIssuedTotal.Inc()

	middleware.GetLogger(c).Info("Token issued", logger.String("subject", principal.Subject))

	return c.JSON(LoginResponse{
		Token:     raw,
		TokenType: TokenType,
		ExpiresIn: int64(h.codec.Validity() / time.Second),
	})
}

// Me returns the principal resolved for the current request
// GET /api/me
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	p := middleware.GetPrincipal(c)
	return c.JSON(fiber.Map{
		"subject":       p.Subject,
		"name":          p.DisplayName(),
		"authorities":   p.Authorities,
		"authenticated": !p.IsAnonymous(),
	})
}
