package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestUser_JSONOmitsPasswordHash(t *testing.T) {
	user := &User{
		ID:           "01HZX",
		Email:        "owner@example.com",
		PasswordHash: "$2a$12$secretsecretsecret",
		CreatedAt:    time.Now(),
	}

	data, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	if strings.Contains(string(data), "$2a$12$") {
		t.Errorf("serialized user leaks password hash: %s", data)
	}

	data, err = json.Marshal(user.ToResponse())
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	if strings.Contains(string(data), "password") || strings.Contains(string(data), "$2a$") {
		t.Errorf("user response leaks password hash: %s", data)
	}
}

func TestUser_Identity(t *testing.T) {
	user := &User{ID: "u1", Email: "a@b.com", IsAdmin: true}

	id := user.Identity()
	if id.ID != "u1" || id.Email != "a@b.com" {
		t.Errorf("Identity() = %+v, want {u1 a@b.com}", id)
	}
}

func TestNormalizeEmail(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"Owner@Example.COM", "owner@example.com"},
		{"  a@b.com \n", "a@b.com"},
		{"", ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			if got := NormalizeEmail(tc.in); got != tc.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
