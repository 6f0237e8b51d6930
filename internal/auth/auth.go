// Package auth verifies Firebase ID tokens presented as bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// FirebaseJWKSURL serves the public keys that sign Firebase ID tokens.
const FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

const defaultKeyCacheTTL = 15 * time.Minute

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrBadAuthorization     = errors.New("bad auth header")
)

// User is the identity carried by a verified token.
type User struct {
	UID   string
	Email string
}

// Verifier validates ID tokens. In RS256 mode keys come from a JWKS; in
// local mode tokens are HS256 signed with a shared secret.
type Verifier struct {
	jwks     *keyfunc.JWKS
	secret   []byte
	audience string
	issuer   string

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// FirebaseIssuer returns the issuer Firebase stamps on tokens for projectID.
func FirebaseIssuer(projectID string) string {
	return "https://securetoken.google.com/" + projectID
}

// NewFirebaseVerifier checks RS256 tokens against jwks, requiring the
// project's audience and issuer.
func NewFirebaseVerifier(jwks *keyfunc.JWKS, projectID string) *Verifier {
	return &Verifier{
		jwks:        jwks,
		audience:    projectID,
		issuer:      FirebaseIssuer(projectID),
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: defaultKeyCacheTTL,
	}
}

// NewLocalVerifier checks HS256 tokens signed with secret. An empty projectID
// skips the audience and issuer checks.
func NewLocalVerifier(secret []byte, projectID string) *Verifier {
	v := &Verifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
	if projectID != "" {
		v.audience = projectID
		v.issuer = FirebaseIssuer(projectID)
	}
	return v
}

// FetchJWKS loads the key set at url and keeps it refreshed in the background
// until ctx is done.
func FetchJWKS(ctx context.Context, url string, refresh time.Duration) (*keyfunc.JWKS, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   refresh,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return jwks, nil
}

// VerifyHeader verifies the bearer token in an Authorization header value.
func (v *Verifier) VerifyHeader(header string) (User, error) {
	token, err := BearerToken(header)
	if err != nil {
		return User{}, err
	}
	return v.Verify(token)
}

// Verify parses and validates a raw ID token.
func (v *Verifier) Verify(raw string) (User, error) {
	if raw == "" {
		return User{}, ErrBadAuthorization
	}
	parsed, err := v.parser.Parse(raw, v.key)
	if err != nil {
		return User{}, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return User{}, errors.New("token expired")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return User{}, errors.New("token used before issued")
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return User{}, errors.New("invalid audience")
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return User{}, errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return User{}, errors.New("missing sub")
	}
	email, _ := claims["email"].(string)
	return User{UID: sub, Email: email}, nil
}

func (v *Verifier) key(token *jwt.Token) (any, error) {
	if v.secret != nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	}
	if v.jwks == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && v.keyCacheTTL > 0 {
		if cached, ok := v.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			v.keyCache.Delete(kid)
		}
	}

	key, err := v.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && v.keyCacheTTL > 0 {
		v.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(v.keyCacheTTL)})
	}
	return key, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingAuthorization
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadAuthorization
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.Count(token, ".") != 2 {
		return "", ErrBadAuthorization
	}
	return token, nil
}

type userKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}
