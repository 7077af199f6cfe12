package jwt

import (
	"testing"
	"time"

	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	v := NewVerifier(Options{Secret: "secret", Issuer: "chatsev", Audience: "realtime"})
	token, err := v.Issue("u1", 5, time.Hour)
	require.NoError(t, err)

	claims, err := v.Validate(token, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserId())
	assert.Equal(t, 5, claims.PlatformId)
	assert.Equal(t, "chatsev", claims.Issuer)
}

func TestValidate_PlatformOptional(t *testing.T) {
	v := NewVerifier(Options{Secret: "secret"})
	token, err := v.Issue("u1", 0, time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(token, "u1", 3)
	assert.NoError(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	v := NewVerifier(Options{Secret: "secret"})
	token, err := v.Issue("u1", 5, time.Hour)
	require.NoError(t, err)

	_, err = v.Validate(token, "u2", 5)
	assert.Same(t, errcode.ErrTokenMismatch, err)

	_, err = v.Validate(token, "u1", 1)
	assert.Same(t, errcode.ErrTokenMismatch, err)

	_, err = NewVerifier(Options{Secret: "other"}).Parse(token)
	assert.ErrorIs(t, err, errcode.ErrTokenInvalid)

	_, err = NewVerifier(Options{Secret: "secret", Audience: "realtime"}).Parse(token)
	assert.ErrorIs(t, err, errcode.ErrTokenInvalid, "audience is enforced when configured")
}

func TestParse_Expired(t *testing.T) {
	v := NewVerifier(Options{Secret: "secret"})
	v.nowFunc = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Issue("u1", 5, time.Hour)
	require.NoError(t, err)

	_, err = v.Parse(token)
	assert.ErrorIs(t, err, errcode.ErrTokenExpired)

	lenient := NewVerifier(Options{Secret: "secret", Leeway: 2 * time.Hour})
	_, err = lenient.Parse(token)
	assert.NoError(t, err)
}

func TestParse_RequiresSubjectAndExpiry(t *testing.T) {
	v := NewVerifier(Options{Secret: "secret"})

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Parse(noSub)
	assert.ErrorIs(t, err, errcode.ErrTokenInvalid)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Parse(noExp)
	assert.ErrorIs(t, err, errcode.ErrTokenInvalid)
}
