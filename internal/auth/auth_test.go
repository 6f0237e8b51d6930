package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const projectID = "board-dev"

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "uid-123",
		"email": "ana@example.com",
		"aud":   projectID,
		"iss":   FirebaseIssuer(projectID),
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	}
}

func TestLocalVerifierAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewLocalVerifier(secret, projectID)

	user, err := v.VerifyHeader("Bearer " + signHS256(t, secret, validClaims()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.UID != "uid-123" || user.Email != "ana@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestLocalVerifierRejects(t *testing.T) {
	secret := []byte("test-secret")
	v := NewLocalVerifier(secret, projectID)

	cases := map[string]func(jwt.MapClaims){
		"wrong audience": func(c jwt.MapClaims) { c["aud"] = "other-project" },
		"wrong issuer":   func(c jwt.MapClaims) { c["iss"] = "https://securetoken.google.com/other" },
		"expired":        func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
		"missing sub":    func(c jwt.MapClaims) { delete(c, "sub") },
	}
	for name, mutate := range cases {
		claims := validClaims()
		mutate(claims)
		if _, err := v.Verify(signHS256(t, secret, claims)); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
	if _, err := v.Verify(signHS256(t, []byte("other-secret"), validClaims())); err == nil {
		t.Fatalf("expected signature mismatch to be rejected")
	}
}

func TestBearerToken(t *testing.T) {
	if _, err := BearerToken(""); !errors.Is(err, ErrMissingAuthorization) {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := BearerToken("Basic abc"); !errors.Is(err, ErrBadAuthorization) {
		t.Fatalf("expected bad header error, got %v", err)
	}
	if _, err := BearerToken("Bearer " + strings.Repeat(".", 1000)); !errors.Is(err, ErrBadAuthorization) {
		t.Fatalf("expected bad header error, got %v", err)
	}
	token, err := BearerToken("bearer a.b.c")
	if err != nil || token != "a.b.c" {
		t.Fatalf("unexpected token %q err %v", token, err)
	}
}

func TestFirebaseVerifierWithJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksJSON, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	jwks, err := keyfunc.NewJSON(jwksJSON)
	if err != nil {
		t.Fatalf("load jwks: %v", err)
	}
	v := NewFirebaseVerifier(jwks, projectID)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	user, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.UID != "uid-123" {
		t.Fatalf("unexpected uid %q", user.UID)
	}
	// Served from the kid cache on the second call.
	if _, err := v.Verify(signed); err != nil {
		t.Fatalf("verify cached: %v", err)
	}

	hs := signHS256(t, []byte("secret"), validClaims())
	if _, err := v.Verify(hs); err == nil {
		t.Fatalf("HS256 token must be rejected in RS256 mode")
	}
}

func TestUserContext(t *testing.T) {
	ctx := WithUser(context.Background(), User{UID: "u1"})
	u, ok := UserFromContext(ctx)
	if !ok || u.UID != "u1" {
		t.Fatalf("unexpected user %+v ok=%v", u, ok)
	}
	if _, ok := UserFromContext(context.Background()); ok {
		t.Fatalf("expected no user on empty context")
	}
}
