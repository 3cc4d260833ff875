package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/lifeid/internal/credstore"
	"github.com/hitoshi/lifeid/internal/docstore"
	"github.com/hitoshi/lifeid/internal/middleware"
	"github.com/hitoshi/lifeid/internal/profile"
	"github.com/hitoshi/lifeid/internal/security"
	"github.com/hitoshi/lifeid/internal/session"
	"github.com/hitoshi/lifeid/internal/user"
)

// testServer は実コンポーネント（メモリストア）で構成したテスト用サーバー。
type testServer struct {
	server  *httptest.Server
	manager *session.Manager
	limiter *middleware.RateLimiter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	docs := docstore.NewMemoryStore()
	hasher := security.NewPasswordHasher(4)
	creds := credstore.NewLocal(docs, hasher, time.Hour)
	bridge := user.NewBridge(docs)
	manager := session.NewManager(creds, bridge)

	if err := creds.Start(context.Background()); err != nil {
		t.Fatalf("credstore start failed: %v", err)
	}

	repo := profile.NewRepository(docs)
	userSvc := user.NewService(docs, repo, creds)
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())

	router := NewRouter(&RouterDeps{
		Verifier:          creds,
		States:            manager,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		CSRFConfig:        middleware.CSRFConfig{},
		SessionService:    manager,
		TokenSource:       creds,
		AuthConfig:        AuthHandlerConfig{SessionMaxAge: 3600},
		ProfileRepo:       repo,
		Sanitizer:         security.NewTextSanitizer(),
		UserService:       userSvc,
		Docs:              docs,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		manager.Close()
		limiter.Stop()
	})

	return &testServer{server: server, manager: manager, limiter: limiter}
}

// testClient はCookieを保持するHTTPクライアント。
type testClient struct {
	t       *testing.T
	base    string
	client  *http.Client
	cookies map[string]*http.Cookie
	csrf    string
}

func newTestClient(t *testing.T, ts *testServer) *testClient {
	return &testClient{
		t:       t,
		base:    ts.server.URL,
		client:  ts.server.Client(),
		cookies: make(map[string]*http.Cookie),
	}
}

func (c *testClient) do(method, path string, body any) *http.Response {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	for _, cookie := range resp.Cookies() {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie
	}
	return resp
}

func (c *testClient) decode(resp *http.Response, v any) {
	c.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		c.t.Fatalf("failed to decode response: %v", err)
	}
}

// fetchCSRFToken はCSRFトークンを取得し、以降のリクエストに付与する。
func (c *testClient) fetchCSRFToken() {
	c.t.Helper()
	resp := c.do(http.MethodGet, "/api/csrf-token", nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("csrf token fetch: status = %d", resp.StatusCode)
	}
	var body map[string]string
	c.decode(resp, &body)
	c.csrf = body["token"]
	if c.csrf == "" {
		c.t.Fatal("empty csrf token")
	}
	c.cookies["lifeid_csrf"] = &http.Cookie{Name: "lifeid_csrf", Value: c.csrf}
}

// サインアップからプロフィール公開閲覧までの一連のフローを検証
func TestRouter_SignupProfilePublicViewFlow(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)
	client.fetchCSRFToken()

	// 1. サインアップ
	resp := client.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "owner@example.com",
		"password": "secret123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: status = %d", resp.StatusCode)
	}
	var identity identityResponse
	client.decode(resp, &identity)
	if identity.Email != "owner@example.com" {
		t.Errorf("identity = %+v, want owner@example.com", identity)
	}

	// 2. プロフィール保存
	resp = client.do(http.MethodPut, "/api/profile", profileRequest{
		FullName:    "山田 太郎",
		DateOfBirth: "1985-04-12",
		BloodType:   "A+",
		Allergies:   []string{"penicillin"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("save profile: status = %d", resp.StatusCode)
	}
	var saved profileResponse
	client.decode(resp, &saved)
	if saved.PublicURL == "" {
		t.Fatal("expected generated publicUrl")
	}

	// 3. 認証なしの公開閲覧
	anon := newTestClient(t, ts)
	resp = anon.do(http.MethodGet, "/p/"+saved.PublicURL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public view: status = %d", resp.StatusCode)
	}
	var public profileResponse
	anon.decode(resp, &public)
	if public.FullName != "山田 太郎" || public.BloodType != "A+" {
		t.Errorf("public profile = %+v, want saved fields", public)
	}

	// 4. /auth/me がセッションの認証主体を返す
	resp = client.do(http.MethodGet, "/auth/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status = %d", resp.StatusCode)
	}
	var me identityResponse
	client.decode(resp, &me)
	if me.UID != identity.UID {
		t.Errorf("me.uid = %q, want %q", me.UID, identity.UID)
	}
}

// ログアウト後に保護ルートへのアクセスが401になることを検証
func TestRouter_LogoutRevokesSession(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)
	client.fetchCSRFToken()

	resp := client.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "owner@example.com",
		"password": "secret123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: status = %d", resp.StatusCode)
	}

	sessionCookie := client.cookies[middleware.SessionCookieName]
	if sessionCookie == nil {
		t.Fatal("expected session cookie after signup")
	}

	resp = client.do(http.MethodPost, "/auth/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status = %d", resp.StatusCode)
	}

	// 失効済みトークンでの保護ルートアクセス
	client.cookies[middleware.SessionCookieName] = sessionCookie
	resp = client.do(http.MethodGet, "/api/profile", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("profile after logout: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

// 2人目のサインアップが409になることを検証
func TestRouter_SecondSignupRejected(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)

	resp := client.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "owner@example.com",
		"password": "secret123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first signup: status = %d", resp.StatusCode)
	}

	other := newTestClient(t, ts)
	resp = other.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "intruder@example.com",
		"password": "secret456",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second signup: status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

// ログインの失敗と成功、失敗時のセッション状態維持を検証
func TestRouter_LoginFlow(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)

	resp := client.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "owner@example.com",
		"password": "secret123",
	})
	resp.Body.Close()

	resp = client.do(http.MethodPost, "/auth/logout", nil)
	resp.Body.Close()

	// 無効な資格情報
	resp = client.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "bad@example.com",
		"password": "wrongpass",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if state, _ := ts.manager.Current(); state != session.StateAnonymous {
		t.Errorf("state after failed login = %v, want %v", state, session.StateAnonymous)
	}

	// 正しい資格情報
	resp = client.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    "owner@example.com",
		"password": "secret123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status = %d", resp.StatusCode)
	}
	if state, _ := ts.manager.Current(); state != session.StateAuthenticated {
		t.Errorf("state after login = %v, want %v", state, session.StateAuthenticated)
	}
}

// CSRFトークンなしの状態変更リクエストが403になることを検証
func TestRouter_CSRFRequired(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)

	resp := client.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "owner@example.com",
		"password": "secret123",
	})
	resp.Body.Close()

	// CSRFトークンなしでのPUT
	resp = client.do(http.MethodPut, "/api/profile", profileRequest{FullName: "山田 太郎"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("put without csrf: status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

// 退会で全データが削除されることを検証
func TestRouter_Withdraw(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)
	client.fetchCSRFToken()

	resp := client.do(http.MethodPost, "/auth/signup", map[string]string{
		"email":    "owner@example.com",
		"password": "secret123",
	})
	resp.Body.Close()

	resp = client.do(http.MethodPut, "/api/profile", profileRequest{FullName: "山田 太郎"})
	var saved profileResponse
	client.decode(resp, &saved)

	resp = client.do(http.MethodDelete, "/api/users/me", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("withdraw: status = %d", resp.StatusCode)
	}

	// 公開URLも參照不能になる
	anon := newTestClient(t, ts)
	resp = anon.do(http.MethodGet, "/p/"+saved.PublicURL, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("public view after withdraw: status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// ヘルスチェックが200を返すことを検証
func TestRouter_Health(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)

	resp := client.do(http.MethodGet, "/api/health", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	client.decode(resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

// セキュリティヘッダーが全レスポンスに付与されることを検証
func TestRouter_SecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	client := newTestClient(t, ts)

	resp := client.do(http.MethodGet, "/api/health", nil)
	resp.Body.Close()

	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}
