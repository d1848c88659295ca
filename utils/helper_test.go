package utils

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
)

func TestClientIP(t *testing.T) {
	cases := []struct {
		name     string
		xff      string
		remote   string
		fallback string
		expected string
	}{
		{"forwarded chain", "203.0.113.9, 10.0.0.1", "10.0.0.2:1234", "10.0.0.2", "203.0.113.9"},
		{"single forwarded", "198.51.100.7", "10.0.0.2:1234", "10.0.0.2", "198.51.100.7"},
		{"no header uses fallback", "", "10.0.0.2:1234", "192.0.2.1", "192.0.2.1"},
		{"empty first entry", " , 10.0.0.1", "10.0.0.2:1234", "192.0.2.1", "192.0.2.1"},
		{"remote addr when no fallback", "", "10.0.0.2:1234", "", "10.0.0.2"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("POST", "/", nil)
		r.RemoteAddr = tc.remote
		if tc.xff != "" {
			r.Header.Set("X-Forwarded-For", tc.xff)
		}
		if got := ClientIP(r, tc.fallback); got != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.expected, got)
		}
	}
}

func TestProcessValidationErrors(t *testing.T) {
	type input struct {
		Username string `validate:"required"`
		Email    string `validate:"required,email"`
	}
	err := validator.New().Struct(input{Email: "nope"})
	got := ProcessValidationErrors(err)
	if got["Username"] != "required" || got["Email"] != "email" {
		t.Fatalf("unexpected map %v", got)
	}
	if len(ProcessValidationErrors(errors.New("plain"))) != 0 {
		t.Fatalf("non-validation errors should produce an empty map")
	}
}

func TestExecTemplate(t *testing.T) {
	out, err := ExecTemplate("hi {{.name}}{{if .note}} ({{.note}}){{end}}", map[string]interface{}{"name": "bob", "note": ""})
	if err != nil || out != "hi bob" {
		t.Fatalf("unexpected %q %v", out, err)
	}
	if _, err := ExecTemplate("{{.broken", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDefaultIfEmpty(t *testing.T) {
	if DefaultIfEmpty("  ", "N/A") != "N/A" || DefaultIfEmpty("x", "N/A") != "x" {
		t.Fatalf("DefaultIfEmpty mismatch")
	}
}

func TestObtainLockWithoutRedis(t *testing.T) {
	release, err := ObtainLock(context.Background(), "lock:test", "k", time.Second, "utils", "TestObtainLockWithoutRedis")
	if err != nil {
		t.Fatalf("expected no error without redis, got %v", err)
	}
	release()
}

func TestContextHelpers(t *testing.T) {
	ctx := SetCorrelationIdInContext(context.Background(), "cid")
	ctx = SetClientIdInContext(ctx, "client")
	ctx = SetClientIPInContext(ctx, "1.2.3.4")

	if v, ok := GetCorrelationIdFromContext(ctx); !ok || v != "cid" {
		t.Fatalf("correlation id lost")
	}
	if v, ok := GetClientIdFromContext(ctx); !ok || v != "client" {
		t.Fatalf("client id lost")
	}
	if v, ok := GetClientIPFromContext(ctx); !ok || v != "1.2.3.4" {
		t.Fatalf("client ip lost")
	}
	if _, ok := GetClientIdFromContext(context.Background()); ok {
		t.Fatalf("empty context should report missing")
	}
}
