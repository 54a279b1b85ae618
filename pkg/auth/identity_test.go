package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestHTTPVerifier 测试身份校验客户端
func TestHTTPVerifier(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"message":{"user":"u1","user_type":"System User","installed_apps":["pos"]}}`))
		}))
		defer srv.Close()

		v := NewHTTPVerifier("http", "/api/method/frappe.auth.get_logged_user")
		site := strings.TrimPrefix(srv.URL, "http://")

		identity, err := v.Verify(context.Background(), site, "tok-123")
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if gotAuth != "Bearer tok-123" {
			t.Errorf("expected bearer credential, got %q", gotAuth)
		}
		if identity.User != "u1" || identity.UserType != "System User" {
			t.Errorf("unexpected identity: %+v", identity)
		}
		if len(identity.InstalledApps) != 1 || identity.InstalledApps[0] != "pos" {
			t.Errorf("unexpected installed apps: %v", identity.InstalledApps)
		}
	})

	t.Run("NonSuccessStatus", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		defer srv.Close()

		v := NewHTTPVerifier("http", "/")
		if _, err := v.Verify(context.Background(), strings.TrimPrefix(srv.URL, "http://"), "tok"); err == nil {
			t.Fatal("expected error for non-2xx status")
		}
	})

	t.Run("MissingUser", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"message":{}}`))
		}))
		defer srv.Close()

		v := NewHTTPVerifier("http", "/")
		if _, err := v.Verify(context.Background(), strings.TrimPrefix(srv.URL, "http://"), "tok"); err == nil {
			t.Fatal("expected error for missing user")
		}
	})

	t.Run("MalformedBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		v := NewHTTPVerifier("http", "/")
		if _, err := v.Verify(context.Background(), strings.TrimPrefix(srv.URL, "http://"), "tok"); err == nil {
			t.Fatal("expected error for malformed body")
		}
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		v := NewHTTPVerifier("http", "/")
		if _, err := v.Verify(ctx, strings.TrimPrefix(srv.URL, "http://"), "tok"); err == nil {
			t.Fatal("expected error for canceled context")
		}
	})
}
