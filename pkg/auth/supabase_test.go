package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"
)

func TestClassifyAuthError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		invalid bool
	}{
		{"rejected token", errors.New("invalid JWT: unable to parse or verify signature"), true},
		{"transport", &url.Error{Op: "Get", URL: "https://auth.local/user", Err: errors.New("connection refused")}, false},
		{"gateway page", errors.New("unknown, status code: 502"), false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		err := classifyAuthError(tc.err)
		if got := errors.Is(err, ErrInvalidToken); got != tc.invalid {
			t.Fatalf("%s: expected invalid=%v, got %v (%v)", tc.name, tc.invalid, got, err)
		}
	}
}
