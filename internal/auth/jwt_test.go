package auth

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/go-green-rwanda/admin-backend/internal/config"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

// resetJWTSecret resets the package-level sync.Once so tests can set a fresh secret.
// This is only safe to call from test code.
func resetJWTSecret() {
	jwtSecret = ""
	jwtSecretOnce = sync.Once{}
	jwtSecretErr = nil
}

func TestMain(m *testing.M) {
	os.Setenv(SecretEnv, testSecret)
	os.Exit(m.Run())
}

func TestValidateJWTSecret(t *testing.T) {
	t.Run("valid secret from env", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(SecretEnv, "exactly-32-char-secret-for-test!!")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error: %v", err)
		}
	})

	t.Run("production mode requires secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(SecretEnv, "")
		t.Setenv("GGR_DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		if err := ValidateJWTSecret(); err == nil {
			t.Error("ValidateJWTSecret() expected error in production mode without secret, got nil")
		}
	})

	t.Run("dev mode generates random secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv(SecretEnv, "")
		t.Setenv("GGR_DEV_MODE", "true")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error in dev mode: %v", err)
		}
		if GetJWTSecret() == "" {
			t.Error("GetJWTSecret() returned empty string after dev mode init")
		}
	})

	resetJWTSecret()
}

func TestGenerateAndVerify(t *testing.T) {
	resetJWTSecret()
	t.Setenv(SecretEnv, testSecret)

	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateJWT(TokenRequest{UserID: "user-123", Email: "jane@gogreen.rw", Name: "Jane", Role: RoleAdmin})
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.UserID() != "user-123" {
			t.Errorf("claims.UserID() = %q, want %q", claims.UserID(), "user-123")
		}
		if claims.Email != "jane@gogreen.rw" || claims.Name != "Jane" {
			t.Errorf("claims = %+v, want email and name set", claims)
		}
		if claims.Role != RoleAdmin {
			t.Errorf("claims.Role = %q, want %q", claims.Role, RoleAdmin)
		}
		if claims.Issuer != DefaultIssuer {
			t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, DefaultIssuer)
		}
	})

	t.Run("default expiry when zero duration", func(t *testing.T) {
		token, err := GenerateJWT(TokenRequest{UserID: "uid"})
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 50*time.Minute || remaining > 70*time.Minute {
			t.Errorf("default expiry remaining = %v, want ~1h", remaining)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, _ := GenerateJWT(TokenRequest{UserID: "uid", ExpiresIn: -time.Second})
		_, err := ValidateJWT(token)
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateJWT() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage and empty tokens", func(t *testing.T) {
		for _, tok := range []string{"not.a.valid.token", ""} {
			if _, err := ValidateJWT(tok); err == nil {
				t.Errorf("ValidateJWT(%q) expected error, got nil", tok)
			}
		}
	})

	t.Run("missing subject is rejected", func(t *testing.T) {
		token, _ := GenerateJWT(TokenRequest{Email: "x@y.z"})
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for token without subject")
		}
	})

	t.Run("other signing method is rejected", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "uid", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("SignedString: %v", err)
		}
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for HS512 token")
		}
	})

	t.Run("token signed with different secret is rejected", func(t *testing.T) {
		token, _ := GenerateJWT(TokenRequest{UserID: "uid"})

		resetJWTSecret()
		t.Setenv(SecretEnv, "completely-different-secret-32ch!")

		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for token signed with different secret, got nil")
		}

		resetJWTSecret()
		t.Setenv(SecretEnv, testSecret)
	})
}

func TestVerifier_Issuer(t *testing.T) {
	resetJWTSecret()
	t.Setenv(SecretEnv, testSecret)

	v := NewVerifier(&config.AuthConfig{Issuer: "hosted-backend"})

	good, _ := GenerateJWT(TokenRequest{UserID: "uid", Issuer: "hosted-backend"})
	if _, err := v.Verify(good); err != nil {
		t.Errorf("Verify() with matching issuer error = %v", err)
	}

	bad, _ := GenerateJWT(TokenRequest{UserID: "uid", Issuer: "someone-else"})
	if _, err := v.Verify(bad); err == nil {
		t.Error("Verify() with wrong issuer error = nil, want error")
	}
}

func TestVerifier_CustomRoleClaim(t *testing.T) {
	resetJWTSecret()
	t.Setenv(SecretEnv, testSecret)

	claims := jwt.MapClaims{
		"sub":      "uid",
		"exp":      time.Now().Add(time.Hour).Unix(),
		"userRole": RoleModerator,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	got, err := NewVerifier(&config.AuthConfig{RoleClaim: "userRole"}).Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Role != RoleModerator {
		t.Errorf("Role = %q, want %q", got.Role, RoleModerator)
	}
}
