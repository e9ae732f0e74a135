// internal/pkg/oidc/client_test.go
package oidc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(Config{
		IssuerURL:    srv.URL,
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		Timeout:      5 * time.Second,
	})
	return client, srv
}

func TestPasswordGrant(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		if got := r.PostForm.Get("username"); got != "user@example.com" {
			t.Errorf("username = %q", got)
		}
		if got := r.PostForm.Get("client_id"); got != "test-client" {
			t.Errorf("client_id = %q", got)
		}
		if got := r.PostForm.Get("client_secret"); got != "test-secret" {
			t.Errorf("client_secret = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
	})

	resp, err := client.PasswordGrant(context.Background(), "user@example.com", "pw")
	if err != nil {
		t.Fatalf("PasswordGrant: %v", err)
	}
	if resp.AccessToken != "at" || resp.RefreshToken != "rt" || resp.ExpiresIn != 3600 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRefreshSendsRefreshToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "old-rt" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt","expires_in":3600}`))
	})

	resp, err := client.Refresh(context.Background(), "old-rt")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if resp.AccessToken != "new-at" || resp.RefreshToken != "new-rt" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestTokenErrorParsing(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"credentials rejected"}`))
	})

	_, err := client.PasswordGrant(context.Background(), "user@example.com", "bad")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsInvalidGrant(err) {
		t.Fatalf("IsInvalidGrant = false for %v", err)
	}

	te, ok := err.(*TokenError)
	if !ok {
		t.Fatalf("error type %T, want *TokenError", err)
	}
	if te.Description != "credentials rejected" {
		t.Errorf("description = %q", te.Description)
	}
}

func TestNonRFCErrorIsNotInvalidGrant(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`oops`))
	})

	_, err := client.Refresh(context.Background(), "rt")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsInvalidGrant(err) {
		t.Fatal("server failure misclassified as invalid_grant")
	}
}

func TestRevoke(t *testing.T) {
	var gotPath, gotToken, gotHint string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotPath = r.URL.Path
		gotToken = r.PostForm.Get("token")
		gotHint = r.PostForm.Get("token_type_hint")
		w.WriteHeader(http.StatusOK)
	})

	if err := client.Revoke(context.Background(), "the-token", "refresh_token"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if gotPath != "/revocation" {
		t.Errorf("path = %q", gotPath)
	}
	if gotToken != "the-token" || gotHint != "refresh_token" {
		t.Errorf("token = %q hint = %q", gotToken, gotHint)
	}
}

func TestIntrospect(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"active":true,"sub":"user-1","token_type":"access_token"}`))
	})

	resp, err := client.Introspect(context.Background(), "at")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !resp.Active || resp.Subject != "user-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
