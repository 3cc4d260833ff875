// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lifeid/internal/model"
	"github.com/hitoshi/lifeid/internal/session"
)

// SessionCookieName はセッショントークンを保持するHTTP Only Cookieの名前。
const SessionCookieName = "lifeid_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証主体を格納するためのキー。
var identityContextKey = contextKey("session_identity")

// TokenVerifier はセッショントークンの検証インターフェース。
// credstore.TokenVerifierの部分集合として定義する。
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*model.SessionIdentity, error)
}

// StateResolver はセッション状態の照会インターフェース。
// session.Managerの部分集合として定義する。
type StateResolver interface {
	Current() (session.State, *model.SessionIdentity)
}

// NewSessionMiddleware はHTTP Only Cookieからセッショントークンを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証主体をリクエストコンテキストに注入する。
// セッション状態が未解決（Unknown）の間は503を返し、Anonymousと混同させない。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(verifier TokenVerifier, states StateResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. セッション状態が解決済みであることを確認
			if state, _ := states.Current(); state == session.StateUnknown {
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewAuthResolvingError())
				return
			}

			// 2. Cookieからセッショントークンを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. トークンの有効性を検証
			identity, err := verifier.VerifyToken(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to verify session token",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if identity == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 4. 認証主体をコンテキストに注入
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから認証主体を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.SessionIdentity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.SessionIdentity)
	if !ok || identity == nil {
		return nil, fmt.Errorf("session identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストに認証主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.SessionIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
