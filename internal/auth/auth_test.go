package auth

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testSecret, "admin", "hunter2hunter2", time.Hour)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		username string
		password string
		wantErr  bool
	}{
		{"valid", testSecret, "admin", "hunter2hunter2", false},
		{"short secret", "too-short", "admin", "hunter2hunter2", true},
		{"missing username", testSecret, "", "hunter2hunter2", true},
		{"missing password", testSecret, "admin", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.secret, tt.username, tt.password, time.Hour)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewService() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoginAndValidate(t *testing.T) {
	svc := testService(t)

	resp, err := svc.Login("admin", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token == "" {
		t.Fatal("Login() returned an empty token")
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Errorf("ExpiresAt = %v, already past", resp.ExpiresAt)
	}

	claims, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("Username = %q, want admin", claims.Username)
	}
	if claims.Issuer != "sentinela" {
		t.Errorf("Issuer = %q, want sentinela", claims.Issuer)
	}
}

func TestLoginWrongCredentials(t *testing.T) {
	svc := testService(t)

	if _, err := svc.Login("admin", "wrong"); err == nil {
		t.Error("Login() with a wrong password did not fail")
	}
	if _, err := svc.Login("intruder", "hunter2hunter2"); err == nil {
		t.Error("Login() with a wrong username did not fail")
	}
}

func TestValidateTokenRejections(t *testing.T) {
	svc := testService(t)

	t.Run("garbage", func(t *testing.T) {
		if _, err := svc.ValidateToken("not.a.token"); err == nil {
			t.Error("ValidateToken() accepted garbage")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewService(strings.Repeat("x", 32), "admin", "hunter2hunter2", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := other.Login("admin", "hunter2hunter2")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.ValidateToken(resp.Token); err == nil {
			t.Error("ValidateToken() accepted a token signed with another secret")
		}
	})

	t.Run("expired", func(t *testing.T) {
		expired, err := NewService(testSecret, "admin", "hunter2hunter2", -time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := expired.Login("admin", "hunter2hunter2")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.ValidateToken(resp.Token); err == nil {
			t.Error("ValidateToken() accepted an expired token")
		}
	})
}
