// Package jwt verifies the access tokens presented on the HTTP API and the
// websocket handshake. Tokens are HS256 with the user id in the subject.
package jwt

import (
	"errors"
	"time"

	"github.com/chatsev/realtime/pkg/errcode"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by a ChatSev access token
type Claims struct {
	PlatformId int    `json:"platform_id,omitempty"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserId returns the subject of the token
func (c *Claims) UserId() string {
	return c.Subject
}

// Options configures a Verifier
type Options struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier parses tokens signed with a shared secret
type Verifier struct {
	opts    Options
	parser  *jwt.Parser
	nowFunc func() time.Time
}

// NewVerifier creates a Verifier. Empty Issuer or Audience are not checked.
func NewVerifier(opts Options) *Verifier {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	return &Verifier{
		opts:    opts,
		parser:  jwt.NewParser(parserOpts...),
		nowFunc: time.Now,
	}
}

// Parse validates signature, expiry, issuer and audience
func (v *Verifier) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(v.opts.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errcode.ErrTokenExpired.Wrap(err)
		}
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errcode.ErrTokenInvalid
	}
	return claims, nil
}

// Validate parses the token and checks that it belongs to userId. A token
// without a platform id is accepted on every platform.
func (v *Verifier) Validate(tokenString, userId string, platformId int) (*Claims, error) {
	claims, err := v.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != userId {
		return nil, errcode.ErrTokenMismatch
	}
	if claims.PlatformId != 0 && claims.PlatformId != platformId {
		return nil, errcode.ErrTokenMismatch
	}
	return claims, nil
}

// Issue signs a token for userId, used by tooling and tests
func (v *Verifier) Issue(userId string, platformId int, ttl time.Duration) (string, error) {
	now := v.nowFunc()
	claims := Claims{
		PlatformId: platformId,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			Issuer:    v.opts.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if v.opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.opts.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.opts.Secret))
}
