package auth

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeVerifier 可编程的身份校验桩
type fakeVerifier struct {
	calls    atomic.Int32
	identity *Identity
	err      error
	block    bool // 阻塞直到 ctx 取消
}

func (f *fakeVerifier) Verify(ctx context.Context, site, token string) (*Identity, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	id := *f.identity
	return &id, nil
}

// newTestAuthenticator 创建测试认证器
func newTestAuthenticator(verifier IdentityVerifier, enforceOrigin bool) *Authenticator {
	return New(&Config{
		DefaultSite:   "default.test",
		AppPrefix:     "app",
		EnforceOrigin: enforceOrigin,
		VerifyTimeout: time.Second,
	}, verifier, nil)
}

// TestAuthenticateSuccess 测试准入成功
func TestAuthenticateSuccess(t *testing.T) {
	verifier := &fakeVerifier{identity: &Identity{User: "u1", UserType: "System User"}}
	a := newTestAuthenticator(verifier, true)

	req := newRequest("site1.test:9001", map[string]string{
		"Origin":        "https://site1.test",
		"Authorization": "Bearer tok-123",
	})

	identity, err := a.Authenticate(context.Background(), req, "/site1.test")
	if err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
	if identity.User != "u1" {
		t.Errorf("expected user u1, got %q", identity.User)
	}
	if identity.Site != "site1.test" {
		t.Errorf("expected site site1.test, got %q", identity.Site)
	}
	if verifier.calls.Load() != 1 {
		t.Errorf("expected exactly one verify call, got %d", verifier.calls.Load())
	}
}

// TestAuthenticateMissingAuthorization 测试缺失凭证
//
// 缺失 Authorization 时必须在调用身份协作方之前拒绝。
func TestAuthenticateMissingAuthorization(t *testing.T) {
	verifier := &fakeVerifier{identity: &Identity{User: "u1"}}
	a := newTestAuthenticator(verifier, true)

	req := newRequest("site1.test", map[string]string{
		"Origin": "https://site1.test",
	})

	_, err := a.Authenticate(context.Background(), req, "/app/site1.test")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(err.Error(), "Authorization") {
		t.Errorf("error must mention Authorization, got %q", err.Error())
	}

	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindAuthentication {
		t.Errorf("expected authentication error, got %v", err)
	}
	if verifier.calls.Load() != 0 {
		t.Error("identity collaborator must not be called")
	}
}

// TestAuthenticateMalformedAuthorization 测试畸形凭证
func TestAuthenticateMalformedAuthorization(t *testing.T) {
	verifier := &fakeVerifier{identity: &Identity{User: "u1"}}
	a := newTestAuthenticator(verifier, false)

	for _, value := range []string{"Basic abc", "Bearer", "Bearer   ", "token"} {
		req := newRequest("site1.test", map[string]string{
			"Authorization": value,
		})

		_, err := a.Authenticate(context.Background(), req, "/site1.test")
		var aerr *Error
		if !errors.As(err, &aerr) || aerr.Kind != KindAuthentication {
			t.Errorf("Authorization %q: expected authentication error, got %v", value, err)
		}
	}

	// 大小写不敏感
	req := newRequest("site1.test", map[string]string{
		"Authorization": "bearer tok",
	})
	if _, err := a.Authenticate(context.Background(), req, "/site1.test"); err != nil {
		t.Errorf("lowercase bearer must be accepted, got %v", err)
	}
}

// TestAuthenticateOriginMismatch 测试 Origin 不一致
//
// Origin 与 Host 主机名不一致时必须在身份校验之前拒绝。
func TestAuthenticateOriginMismatch(t *testing.T) {
	verifier := &fakeVerifier{identity: &Identity{User: "u1"}}
	a := newTestAuthenticator(verifier, true)

	req := newRequest("site1.test", map[string]string{
		"Origin":        "https://evil.test",
		"Authorization": "Bearer tok",
	})

	_, err := a.Authenticate(context.Background(), req, "/site1.test")
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindOriginMismatch {
		t.Fatalf("expected origin mismatch, got %v", err)
	}
	if verifier.calls.Load() != 0 {
		t.Error("identity collaborator must not be called")
	}

	// 端口差异不算不一致
	req = newRequest("site1.test:9001", map[string]string{
		"Origin":        "https://site1.test:8443",
		"Authorization": "Bearer tok",
	})
	if _, err := a.Authenticate(context.Background(), req, "/site1.test"); err != nil {
		t.Errorf("port difference must be tolerated, got %v", err)
	}
}

// TestAuthenticateOriginPolicyDisabled 测试关闭 Origin 校验
func TestAuthenticateOriginPolicyDisabled(t *testing.T) {
	verifier := &fakeVerifier{identity: &Identity{User: "u1"}}
	a := newTestAuthenticator(verifier, false)

	req := newRequest("site1.test", map[string]string{
		"Origin":        "https://elsewhere.test",
		"Authorization": "Bearer tok",
		"X-Tide-Site":   "site1.test",
	})

	if _, err := a.Authenticate(context.Background(), req, "/site1.test"); err != nil {
		t.Errorf("expected admission with origin policy disabled, got %v", err)
	}
}

// TestAuthenticateNamespaceMismatch 测试路径与租户不一致
func TestAuthenticateNamespaceMismatch(t *testing.T) {
	verifier := &fakeVerifier{identity: &Identity{User: "u1"}}
	a := newTestAuthenticator(verifier, false)

	req := newRequest("site1.test", map[string]string{
		"X-Tide-Site":   "site1.test",
		"Authorization": "Bearer tok",
	})

	_, err := a.Authenticate(context.Background(), req, "/other.test")
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindNamespaceMismatch {
		t.Fatalf("expected namespace mismatch, got %v", err)
	}
	if verifier.calls.Load() != 0 {
		t.Error("identity collaborator must not be called")
	}
}

// TestAuthenticateAppPathOverridesSite 测试应用形式路径覆盖租户
func TestAuthenticateAppPathOverridesSite(t *testing.T) {
	verifier := &fakeVerifier{identity: &Identity{User: "u1"}}
	a := newTestAuthenticator(verifier, false)

	// Host 指向别处，但应用路径中的租户段为准
	req := newRequest("gateway.internal:9001", map[string]string{
		"Authorization": "Bearer tok",
	})

	identity, err := a.Authenticate(context.Background(), req, "/app/site9.test")
	if err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
	if identity.Site != "site9.test" {
		t.Errorf("expected site9.test from app path, got %q", identity.Site)
	}
}

// TestAuthenticateVerifyFailure 测试身份校验失败
func TestAuthenticateVerifyFailure(t *testing.T) {
	cause := errors.New("boom")
	verifier := &fakeVerifier{err: cause}
	a := newTestAuthenticator(verifier, false)

	req := newRequest("site1.test", map[string]string{
		"Authorization": "Bearer tok",
	})

	_, err := a.Authenticate(context.Background(), req, "/site1.test")
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindAuthentication {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause")
	}
}

// TestAuthenticateVerifyTimeout 测试身份校验超时
//
// 无响应的身份协作方只拖住本次握手，并在超时后被拒绝。
func TestAuthenticateVerifyTimeout(t *testing.T) {
	verifier := &fakeVerifier{block: true}
	a := New(&Config{
		AppPrefix:     "app",
		VerifyTimeout: 20 * time.Millisecond,
	}, verifier, nil)

	req := newRequest("site1.test", map[string]string{
		"Authorization": "Bearer tok",
	})

	start := time.Now()
	_, err := a.Authenticate(context.Background(), req, "/site1.test")
	if err == nil {
		t.Fatal("expected timeout rejection")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}

	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != KindAuthentication {
		t.Errorf("expected authentication error, got %v", err)
	}
}
