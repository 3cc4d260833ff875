// Package credstore はCredential Store（身元確認とセッション発行のコラボレーター）を提供する。
//
// Session Managerからは不透明な能力として扱われる:
// 認証・登録・セッション終了の3操作と、セッション変化の通知購読のみを公開する。
package credstore

import (
	"context"

	"github.com/hitoshi/lifeid/internal/model"
)

// Listener はセッション変化通知を受け取る関数。
// identityはセッション確立時に非nil、セッション不在時（ログアウト・期限切れ・
// 起動時の復元失敗）にnilとなる。
// リスナー内からStoreを呼び返したり、ブロックしてはならない。
type Listener func(identity *model.SessionIdentity)

// Store はCredential Storeのインターフェース。
type Store interface {
	// Authenticate はemail/passwordを検証し、成功時にセッションを確立する。
	// 失敗時は原因コードを保持した *model.AuthError を返す。
	// 状態の変化は戻り値ではなくOnSessionChangeの通知として観測すること。
	Authenticate(ctx context.Context, email, password string) (*model.SessionIdentity, error)

	// Register は新規アカウントを作成し、成功時にセッションを確立する。
	// 失敗時は原因コードを保持した *model.AuthError を返す。
	Register(ctx context.Context, email, password string) (*model.SessionIdentity, error)

	// EndSession は現在のセッションを終了する。
	// 成功後の通知でAnonymousへの遷移が観測される。
	EndSession(ctx context.Context) error

	// OnSessionChange はセッション変化のリスナーを登録し、解除関数を返す。
	// 通知は発生順に直列に配送される。
	OnSessionChange(l Listener) (unsubscribe func())
}

// TokenVerifier はHTTP層がセッションCookieのトークンを検証するためのインターフェース。
type TokenVerifier interface {
	// VerifyToken はトークンに対応するセッションの主体を返す。
	// 不明・期限切れトークンは (nil, nil) を返す。
	VerifyToken(ctx context.Context, token string) (*model.SessionIdentity, error)
}
