package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, expiresAt, err := m.GenerateAccessToken("dashboard-user")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiresAt = %v, want future", expiresAt)
	}

	userID, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if userID != "dashboard-user" {
		t.Errorf("VerifyToken() = %q, want dashboard-user", userID)
	}
}

func TestJWTManager_EmptySubject(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	if _, _, err := m.GenerateAccessToken("  "); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("GenerateAccessToken(blank) error = %v, want ErrEmptySubject", err)
	}
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.GenerateAccessToken("u1")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	m.now = time.Now
	if _, err := m.VerifyToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("VerifyToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTManager_Invalid(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other := NewJWTManager("other-secret", time.Hour)
	foreign, _, _ := other.GenerateAccessToken("u1")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1", TokenType: AccessToken})
	none, _ := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)

	wrongType := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:    "u1",
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "instantchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	refresh, _ := wrongType.SignedString([]byte("secret"))

	for name, token := range map[string]string{
		"garbage":     "not-a-token",
		"foreign key": foreign,
		"alg none":    none,
		"wrong type":  refresh,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := m.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("VerifyToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
