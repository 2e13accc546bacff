package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/membership-downgrades/internal/config"
	"github.com/iliyamo/membership-downgrades/internal/utils"
)

// verifyPassword is swapped out in tests.
var verifyPassword = utils.VerifyPassword

// AuthHandler issues admin access tokens.  There is a single admin
// account configured through ADMIN_EMAIL and ADMIN_PASSWORD_HASH.
type AuthHandler struct {
	Cfg config.Config
}

func NewAuthHandler(cfg config.Config) *AuthHandler {
	return &AuthHandler{Cfg: cfg}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type authResp struct {
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	Access tokenPart `json:"access"`
}

// Login: verify and return an access token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}
	// Always check the hash: response time must not depend on the email.
	passwordOK := verifyPassword(h.Cfg.AdminPasswordHash, req.Password)
	emailOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(h.Cfg.AdminEmail)) == 1
	if !emailOK || !passwordOK {
		log.Warn().Str("email", req.Email).Str("ip", c.RealIP()).Msg("admin login failed")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, req.Email, utils.RoleAdmin, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, authResp{
		Email:  req.Email,
		Role:   utils.RoleAdmin,
		Access: tokenPart{Token: access.Token, Expires: access.Exp},
	})
}
