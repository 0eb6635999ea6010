package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/event-approval-api/internal/middleware"
	"github.com/noah-isme/event-approval-api/internal/models"
	appErrors "github.com/noah-isme/event-approval-api/pkg/errors"
	"github.com/noah-isme/event-approval-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext writes a 401 and returns false when the request carries no claims.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return claims.Actor(), true
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func withMeta(c *gin.Context) map[string]interface{} {
	return middleware.ExtractMeta(c)
}

// bindWithActor resolves the caller and decodes the JSON body into dest,
// writing the error response itself when either step fails.
func bindWithActor(c *gin.Context, dest interface{}, message string) (models.Actor, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		return models.Actor{}, false
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, bindError(err, message))
		return models.Actor{}, false
	}
	return actor, true
}
