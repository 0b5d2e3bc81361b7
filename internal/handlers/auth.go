package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"
	"github.com/topik-vn/mock-exam-service/internal/config"
	"github.com/topik-vn/mock-exam-service/internal/utils"
)

const ContextUserIDKey = "user_id"

var ErrMissingToken = errors.New("missing bearer token")

// IdentityProvider resolves a bearer token to the user id that owns attempts
// and mistakes.
type IdentityProvider interface {
	Authenticate(token string) (string, error)
}

type casdoorIdentity struct {
	client *casdoorsdk.Client
}

func NewCasdoorIdentity(cfg config.CasdoorConfig) IdentityProvider {
	return &casdoorIdentity{
		client: casdoorsdk.NewClient(
			cfg.Endpoint,
			cfg.ClientID,
			cfg.ClientSecret,
			cfg.Certificate,
			cfg.OrganizationName,
			cfg.ApplicationName,
		),
	}
}

func (p *casdoorIdentity) Authenticate(token string) (string, error) {
	claims, err := p.client.ParseJwtToken(token)
	if err != nil {
		return "", err
	}
	userID := claims.User.Id
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", errors.New("token carries no user id")
	}
	return userID, nil
}

// AuthMiddleware verifies the bearer token and stores the user id in the
// gin context under "user_id".
func AuthMiddleware(identity IdentityProvider, logger utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var userID string
			if userID, err = identity.Authenticate(token); err == nil {
				c.Set(ContextUserIDKey, userID)
				c.Next()
				return
			}
		}

		logger.Warn("Rejected unauthenticated request",
			"path", c.Request.URL.Path,
			"request_id", c.GetHeader(utils.RequestIDHeader),
			"error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
			Code:    "UNAUTHENTICATED",
		})
	}
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
