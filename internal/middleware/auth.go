package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/mbeoliero/kit/log"

	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/chatsev/realtime/pkg/jwt"
	"github.com/chatsev/realtime/pkg/response"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer token
	BearerPrefix = "Bearer "
	// UserIdKey is the context key for user Id
	UserIdKey = "user_id"
	// PlatformIdKey is the context key for platform Id
	PlatformIdKey = "platform_id"
)

// JWTAuth rejects requests without a valid bearer token and stores the
// token's user and platform on the request context.
func JWTAuth(verifier *jwt.Verifier) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		tokenString, e := bearerToken(c)
		if e != nil {
			response.ErrorWithCode(ctx, c, e)
			c.Abort()
			return
		}

		claims, err := verifier.Parse(tokenString)
		if err != nil {
			log.CtxDebug(ctx, "token rejected: path=%s, error=%v", c.Path(), err)
			if errors.Is(err, errcode.ErrTokenExpired) {
				response.ErrorWithCode(ctx, c, errcode.ErrTokenExpired)
			} else {
				response.ErrorWithCode(ctx, c, errcode.ErrTokenInvalid)
			}
			c.Abort()
			return
		}

		c.Set(UserIdKey, claims.UserId())
		c.Set(PlatformIdKey, claims.PlatformId)
		c.Next(ctx)
	}
}

func bearerToken(c *app.RequestContext) (string, *errcode.Error) {
	authHeader := string(c.GetHeader(AuthorizationHeader))
	if authHeader == "" {
		return "", errcode.ErrTokenMissing
	}
	if !strings.HasPrefix(authHeader, BearerPrefix) {
		return "", errcode.ErrTokenInvalid
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
	if token == "" {
		return "", errcode.ErrTokenMissing
	}
	return token, nil
}

// GetUserId gets user Id from context
func GetUserId(c *app.RequestContext) string {
	if v, ok := c.Get(UserIdKey); ok {
		return v.(string)
	}
	return ""
}

// GetPlatformId gets platform Id from context
func GetPlatformId(c *app.RequestContext) int {
	if v, ok := c.Get(PlatformIdKey); ok {
		return v.(int)
	}
	return 0
}
