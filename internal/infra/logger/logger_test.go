package logger

import (
	"context"
	"testing"
)

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"ip:192.168.1.100":                   "ip:192.168.*.*",
		"email:john.doe@example.com":         "email:joh***@example.com",
		"ip:2001:0db8:85a3:0000:0000:8a2e:1": "ip:2001:0db8:85a3:0000:*:*:*:*",
		"device:abc":                         "device:***",
		"no-separator":                       "***",
	}

	for input, want := range cases {
		if got := MaskKey(input); got != want {
			t.Errorf("MaskKey(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMaskEmailFallback(t *testing.T) {
	if got := MaskEmail("@example.com"); got != "***@example.com" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskEmail("not-an-email"); got != "***" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestRequestIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-42")
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Fatalf("RequestIDFromContext = %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	if WithContext(ctx) == nil {
		t.Fatal("WithContext returned nil logger")
	}
}
