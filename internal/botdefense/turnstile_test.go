package botdefense

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snowskill/snowskill-backend/pkg/config"
)

func TestVerifyDisabledWithoutSecret(t *testing.T) {
	ts := NewTurnstile(config.TurnstileConfig{}, nil)
	ok, err := ts.Verify(context.Background(), "", "")
	if err != nil || !ok {
		t.Fatalf("expected disabled verifier to allow, ok=%v err=%v", ok, err)
	}
}

func TestVerifyPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.PostForm.Get("secret") != "sk" || r.PostForm.Get("remoteip") != "203.0.113.9" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("response") == "good" {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	ts := NewTurnstile(config.TurnstileConfig{SecretKey: "sk", VerifyURL: srv.URL, Timeout: time.Second}, nil)
	if ok, err := ts.Verify(context.Background(), "good", "203.0.113.9"); err != nil || !ok {
		t.Fatalf("expected good token to pass, ok=%v err=%v", ok, err)
	}
	if ok, err := ts.Verify(context.Background(), "bad", "203.0.113.9"); err != nil || ok {
		t.Fatalf("expected bad token to fail, ok=%v err=%v", ok, err)
	}
}

func TestVerifyMissingTokenFailsClosed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	ts := NewTurnstile(config.TurnstileConfig{SecretKey: "sk", VerifyURL: srv.URL}, nil)
	if ok, _ := ts.Verify(context.Background(), " ", ""); ok {
		t.Fatal("expected missing token to fail")
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("expected no upstream call for missing token")
	}
}

func TestVerifyRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ts := NewTurnstile(config.TurnstileConfig{SecretKey: "sk", VerifyURL: srv.URL, Timeout: 5 * time.Second}, nil)
	ok, err := ts.Verify(context.Background(), "good", "")
	if err != nil || !ok {
		t.Fatalf("expected retry to succeed, ok=%v err=%v", ok, err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}
