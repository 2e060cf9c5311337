package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/fleet-gateway/internal/domain"
	"github.com/tbourn/fleet-gateway/internal/http/middleware"
)

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Issue(id domain.AuthContext, ttl time.Duration) (string, error)
}

// DevTokenRequest is the JSON payload of POST /dev/token.
type DevTokenRequest struct {
	UserID string `json:"userId" binding:"required,max=64" example:"user-1"`
	Email  string `json:"email" binding:"omitempty,email,max=254" example:"driver@example.com"`
	Role   string `json:"role" binding:"omitempty,max=32" example:"fleet_manager"`
}

// DevTokenResponse carries a freshly issued token.
type DevTokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType" example:"Bearer"`
	ExpiresIn int64  `json:"expiresIn" example:"604800"`
}

// DevToken issues tokens for local testing. It is only mounted when
// NODE_ENV is development.
type DevToken struct {
	issuer TokenIssuer
	ttl    time.Duration
}

// NewDevToken returns a DevToken handler issuing tokens valid for ttl.
func NewDevToken(issuer TokenIssuer, ttl time.Duration) *DevToken {
	return &DevToken{issuer: issuer, ttl: ttl}
}

// Create godoc
// @ID          createDevToken
// @Summary     Issue a development token
// @Description Signs a bearer token for the given identity. Only mounted when NODE_ENV=development.
// @Tags        Development
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.DevTokenRequest   true  "Identity to sign"
// @Success     201   {object}  handlers.DevTokenResponse
// @Failure     400   {object}  handlers.ErrorResponse     "Bad request"
// @Failure     500   {object}  handlers.ErrorResponse     "Internal error"
// @Router      /dev/token [post]
func (h *DevToken) Create(c *gin.Context) {
	var req DevTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, MsgBadRequest)
		return
	}
	tok, err := h.issuer.Issue(domain.AuthContext{UserID: req.UserID, Email: req.Email, Role: req.Role}, h.ttl)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, MsgInternal)
		return
	}

	lg := middleware.LoggerFrom(c)
	lg.Info().Str("user_id", req.UserID).Dur("ttl", h.ttl).Msg("development token issued")

	ok(c, http.StatusCreated, DevTokenResponse{
		Token:     tok,
		TokenType: "Bearer",
		ExpiresIn: int64(h.ttl / time.Second),
	})
}
