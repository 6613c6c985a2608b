package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "eventpay", ExpirationMinutes: 30, ClockSkew: 30 * time.Second}
}

func signClaims(t *testing.T, cfg config.JWTConfig, claims AccessTokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestMintAndParseRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{UserID: userID, Role: enums.UserRoleAdmin, JTI: "jti-1"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != userID || !claims.IsAdmin() {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID != "jti-1" || claims.Subject != userID.String() || claims.Issuer != cfg.Issuer {
		t.Fatalf("unexpected registered claims %+v", claims.RegisteredClaims)
	}
	if got := claims.ExpiresAt.Sub(now.Add(30 * time.Minute)).Abs(); got >= time.Second {
		t.Fatalf("exp off by %v", got)
	}
}

func TestParseAccessTokenClassifiesFailures(t *testing.T) {
	cfg := testJWTConfig()
	valid, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleAttendee})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	expired, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleAttendee})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	otherIssuer := cfg
	otherIssuer.Issuer = "someone-else"

	cases := []struct {
		name  string
		cfg   config.JWTConfig
		token string
		want  error
	}{
		{"tampered signature", cfg, valid + "x", ErrTokenInvalid},
		{"garbage", cfg, "not-a-jwt", ErrTokenMalformed},
		{"expired", cfg, expired, ErrTokenExpired},
		{"issuer mismatch", otherIssuer, valid, ErrTokenInvalid},
	}
	for _, tc := range cases {
		if _, err := ParseAccessToken(tc.cfg, tc.token); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v got %v", tc.name, tc.want, err)
		}
	}
}

func TestParseAccessTokenToleratesClockSkew(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()
	token := signClaims(t, cfg, AccessTokenClaims{
		UserID: userID,
		Role:   enums.UserRoleAttendee,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(10 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-10 * time.Second)),
		},
	})
	if _, err := ParseAccessToken(cfg, token); err != nil {
		t.Fatalf("expected skew to be tolerated: %v", err)
	}
	cfg.ClockSkew = 0
	if _, err := ParseAccessToken(cfg, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiry without leeway, got %v", err)
	}
}

func TestParseAccessTokenRejectsBadClaims(t *testing.T) {
	cfg := testJWTConfig()
	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))
	cases := map[string]AccessTokenClaims{
		"unknown role": {UserID: uuid.New(), Role: "organizer", RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer, ExpiresAt: exp}},
		"no user":      {Role: enums.UserRoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer, ExpiresAt: exp}},
		"subject mismatch": {UserID: uuid.New(), Role: enums.UserRoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
			Issuer: cfg.Issuer, ExpiresAt: exp, Subject: uuid.NewString(),
		}},
		"no expiry": {UserID: uuid.New(), Role: enums.UserRoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer}},
	}
	for name, claims := range cases {
		if _, err := ParseAccessToken(cfg, signClaims(t, cfg, claims)); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("%s: expected invalid, got %v", name, err)
		}
	}
}

func TestParseAccessTokenRejectsOtherAlgorithms(t *testing.T) {
	cfg := testJWTConfig()
	claims := AccessTokenClaims{UserID: uuid.New(), Role: enums.UserRoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
		Issuer: cfg.Issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected HS512 to be refused, got %v", err)
	}
}

func TestMintAccessTokenValidation(t *testing.T) {
	cfg := testJWTConfig()
	noTTL := cfg
	noTTL.ExpirationMinutes = 0
	cases := map[string]struct {
		cfg     config.JWTConfig
		payload AccessTokenPayload
	}{
		"missing role": {cfg, AccessTokenPayload{UserID: uuid.New()}},
		"missing user": {cfg, AccessTokenPayload{Role: enums.UserRoleAdmin}},
		"no ttl":       {noTTL, AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleAdmin}},
		"no secret":    {config.JWTConfig{Issuer: "x", ExpirationMinutes: 1}, AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleAdmin}},
	}
	for name, tc := range cases {
		if _, err := MintAccessToken(tc.cfg, time.Now(), tc.payload); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
