package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "cinemate",
		Audience: "cinemate",
		TTL:      time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testJWTConfig()
	token, err := GenerateToken(cfg, "user-1", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "user-1" || claims.Name != "Alice" || claims.Subject != "user-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	cfg := testJWTConfig()
	good, err := GenerateToken(cfg, "user-1", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	wrongSecret := *cfg
	wrongSecret.Secret = []byte("other")
	wrongAudience := *cfg
	wrongAudience.Audience = "someone-else"
	wrongIssuer := *cfg
	wrongIssuer.Issuer = "someone-else"

	expired := *cfg
	expired.TTL = -time.Minute
	expiredToken, err := GenerateToken(&expired, "user-1", "Alice")
	if err != nil {
		t.Fatalf("generate expired: %v", err)
	}

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	other, err := GenerateToken(cfg, "user-2", "Mallory")
	if err != nil {
		t.Fatalf("generate other: %v", err)
	}
	goodParts := strings.Split(good, ".")
	otherParts := strings.Split(other, ".")
	tampered := strings.Join([]string{otherParts[0], otherParts[1], goodParts[2]}, ".")

	cases := []struct {
		name  string
		cfg   *JWTConfig
		token string
	}{
		{"wrong secret", &wrongSecret, good},
		{"wrong audience", &wrongAudience, good},
		{"wrong issuer", &wrongIssuer, good},
		{"expired", cfg, expiredToken},
		{"none algorithm", cfg, noneToken},
		{"garbage", cfg, "not.a.token"},
		{"tampered", cfg, tampered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ValidateToken(tc.cfg, tc.token); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}
