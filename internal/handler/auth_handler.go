// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lifeid/internal/metrics"
	"github.com/hitoshi/lifeid/internal/middleware"
	"github.com/hitoshi/lifeid/internal/model"
	"github.com/hitoshi/lifeid/internal/session"
)

// SessionServiceInterface は認証ハンドラーが必要とするセッション操作のインターフェース。
type SessionServiceInterface interface {
	Login(ctx context.Context, email, password string) error
	Signup(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
	Current() (session.State, *model.SessionIdentity)
}

// TokenSource はセッションCookieの発行に必要なインターフェース。
// credstore.Localの部分集合として定義する。
type TokenSource interface {
	// CurrentToken は現在のセッショントークンを返す。セッションがない場合は空文字列。
	CurrentToken() string
	// HasAccount はアカウントが既に登録済みかを返す。
	HasAccount(ctx context.Context) (bool, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はメール・パスワード認証のHTTPハンドラー。
type AuthHandler struct {
	service   SessionServiceInterface
	tokens    TokenSource
	verifier  middleware.TokenVerifier
	collector metrics.MetricsCollector
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service SessionServiceInterface, tokens TokenSource, verifier middleware.TokenVerifier, collector metrics.MetricsCollector, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		tokens:    tokens,
		verifier:  verifier,
		collector: collector,
		config:    config,
	}
}

// credentialsRequest はサインアップ・ログインリクエストのボディ。
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// identityResponse は認証主体のAPIレスポンス。
type identityResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Signup はオーナーアカウントを登録しセッションを開始する。
// POST /auth/signup
// このインスタンスにアカウントが既に存在する場合は409を返す。
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	claimed, err := h.tokens.HasAccount(r.Context())
	if err != nil {
		slog.Error("failed to check existing account", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}
	if claimed {
		h.recordAuth("signup", "instance-claimed")
		writeAPIErrorResponse(w, http.StatusConflict, model.NewInstanceClaimedError())
		return
	}

	if err := h.service.Signup(r.Context(), req.Email, req.Password); err != nil {
		h.recordAuthError("signup", err)
		handleServiceError(w, err)
		return
	}
	h.recordAuth("signup", "success")

	h.setSessionCookie(w)

	_, identity := h.service.Current()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toIdentityResponse(identity))
}

// Login は既存アカウントでセッションを開始する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	if err := h.service.Login(r.Context(), req.Email, req.Password); err != nil {
		h.recordAuthError("login", err)
		handleServiceError(w, err)
		return
	}
	h.recordAuth("login", "success")

	h.setSessionCookie(w)

	_, identity := h.service.Current()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIdentityResponse(identity))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
		// ログアウト失敗してもCookieはクリアする
	}
	h.recordAuth("logout", "success")

	// セッションCookieをクリア
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッションの認証主体を返す。
// GET /auth/me
// セッション状態が未解決（Unknown）の間は503を返し、未認証（401）と区別する。
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if state, _ := h.service.Current(); state == session.StateUnknown {
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewAuthResolvingError())
		return
	}

	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	identity, err := h.verifier.VerifyToken(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to verify session token", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	if identity == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIdentityResponse(identity))
}

// setSessionCookie は現在のセッショントークンをHTTP Only Cookieとして設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter) {
	token := h.tokens.CurrentToken()
	if token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) recordAuth(op, result string) {
	if h.collector != nil {
		h.collector.RecordAuthAttempt(op, result)
	}
}

func (h *AuthHandler) recordAuthError(op string, err error) {
	result := "error"
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		result = authErr.Reason
	}
	h.recordAuth(op, result)
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return nil, false
	}
	if req.Email == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("メールアドレスとパスワードは必須です"))
		return nil, false
	}
	return &req, true
}

func toIdentityResponse(identity *model.SessionIdentity) identityResponse {
	if identity == nil {
		return identityResponse{}
	}
	return identityResponse{
		UID:   identity.UID,
		Email: identity.Email,
	}
}
