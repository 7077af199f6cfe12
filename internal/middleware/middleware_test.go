package middleware

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/chatsev/realtime/pkg/jwt"
	"github.com/chatsev/realtime/pkg/response"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginAllowed(t *testing.T) {
	assert.True(t, OriginAllowed("https://a.dev", nil, true))
	assert.False(t, OriginAllowed("https://a.dev", nil, false))
	assert.True(t, OriginAllowed("https://A.dev", []string{"https://a.dev"}, false))
	assert.True(t, OriginAllowed("https://b.dev", []string{"*"}, false))
	assert.False(t, OriginAllowed("https://b.dev", []string{"https://a.dev"}, true))
}

func TestJWTAuth(t *testing.T) {
	verifier := jwt.NewVerifier(jwt.Options{Secret: "secret"})
	h := server.New()
	h.GET("/me", JWTAuth(verifier), func(ctx context.Context, c *app.RequestContext) {
		response.Success(ctx, c, map[string]interface{}{"user_id": GetUserId(c), "platform_id": GetPlatformId(c)})
	})

	call := func(header string) response.Response {
		var headers []ut.Header
		if header != "" {
			headers = append(headers, ut.Header{Key: AuthorizationHeader, Value: header})
		}
		w := ut.PerformRequest(h.Engine, "GET", "/me", nil, headers...)
		var resp response.Response
		require.NoError(t, json.Unmarshal(w.Result().Body(), &resp))
		return resp
	}

	assert.Equal(t, errcode.ErrTokenMissing.Code, call("").Code)
	assert.Equal(t, errcode.ErrTokenInvalid.Code, call("Basic abc").Code)
	assert.Equal(t, errcode.ErrTokenInvalid.Code, call("Bearer not-a-token").Code)

	token, err := verifier.Issue("u1", 2, time.Hour)
	require.NoError(t, err)
	resp := call(BearerPrefix + token)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, map[string]interface{}{"user_id": "u1", "platform_id": float64(2)}, resp.Data)

	expired, err := verifier.Issue("u1", 2, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, errcode.ErrTokenExpired.Code, call(BearerPrefix+expired).Code)
}
