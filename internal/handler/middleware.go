package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"giftledger/internal/config"
	"giftledger/internal/model"
	"giftledger/internal/service"
	"giftledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const actorKey = "actor"

// LoggerMiddleware writes one access log line per request.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if actor, ok := c.Get(actorKey); ok {
			fields = append(fields, zap.String("user_id", actor.(service.Actor).UserID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger.Info("request", fields...)
	}
}

// RecoveryMiddleware turns a panic into a 500 so one bad request cannot take
// the process down.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				response.Abort(c, http.StatusInternalServerError, "internal server error")
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ============================================================================
// Authentication
// ============================================================================

// Claims is the access token payload: sub is the user id, role one of
// model.Role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errInvalidToken = errors.New("invalid token")

// ParseToken verifies an HS256 token and returns the caller it identifies.
func ParseToken(raw string, auth config.AuthConfig) (service.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(auth.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(auth.Secret), nil
	}, opts...)
	if err != nil {
		return service.Actor{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return service.Actor{}, errInvalidToken
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok {
		return service.Actor{}, errInvalidToken
	}
	return service.Actor{UserID: claims.Subject, Role: role}, nil
}

// AuthMiddleware requires a valid bearer token and stores the caller on the
// request context.
func AuthMiddleware(auth config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}

		actor, err := ParseToken(strings.TrimSpace(raw), auth)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// RequireCapability rejects callers whose role does not grant capability.
func RequireCapability(capability model.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentActor(c).Role.Can(capability) {
			response.Forbidden(c, "missing capability "+string(capability))
			return
		}
		c.Next()
	}
}

func currentActor(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(service.Actor); ok {
			return actor
		}
	}
	return service.Actor{}
}
