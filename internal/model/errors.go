// Package model はドメインモデルを定義する。
package model

import "fmt"

// 認証エラーの原因コード。
// Credential Storeが返す原因コードをそのまま保持し、呼び出し元まで伝搬する。
const (
	AuthReasonInvalidCredential    = "invalid-credential"
	AuthReasonEmailAlreadyInUse    = "email-already-in-use"
	AuthReasonWeakPassword         = "weak-password"
	AuthReasonInvalidEmail         = "invalid-email"
	AuthReasonUserDisabled         = "user-disabled"
	AuthReasonNetworkRequestFailed = "network-request-failed"
)

// AuthError はCredential Storeに起因する認証エラーを表す。
// Reasonには原因コードを保持し、途中で握りつぶさずに呼び出し元へ伝える。
type AuthError struct {
	Reason  string // 原因コード
	Message string // 説明メッセージ
	Err     error  // 下位のエラー（存在する場合）
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Reason, e.Message)
}

// Unwrap は下位のエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError は認証エラーを生成する。
func NewAuthError(reason, message string) *AuthError {
	return &AuthError{Reason: reason, Message: message}
}

// WrapAuthError は下位エラーを保持したままの認証エラーを生成する。
// 通信障害など、原因をそのまま伝搬したい場合に使用する。
func WrapAuthError(reason, message string, err error) *AuthError {
	return &AuthError{Reason: reason, Message: message, Err: err}
}

// NotFoundError は存在しないキーへの更新・削除前提の参照を表す。
// 検索系の「見つからない」は (nil, nil) で表現し、このエラーは
// 更新系が前提とするレコードの不在にのみ使用する。
type NotFoundError struct {
	Collection string
	Key        string
}

// Error はerrorインターフェースを実装する。
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record not found: %s/%s", e.Collection, e.Key)
}

// NewNotFoundError はNotFoundErrorを生成する。
func NewNotFoundError(collection, key string) *NotFoundError {
	return &NotFoundError{Collection: collection, Key: key}
}

// TransportError はコラボレーター（Document Store等）への到達失敗を表す。
// リトライはこのコアでは行わず、原因を保持したまま伝搬する。
type TransportError struct {
	Op  string // 失敗した操作（例: "docstore.get"）
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap は下位のエラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError はTransportErrorを生成する。
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// APIError はHTTP層の統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, profile, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeAuthResolving     = "AUTH_RESOLVING"
	ErrCodeInvalidCredential = "INVALID_CREDENTIAL"
	ErrCodeEmailInUse        = "EMAIL_IN_USE"
	ErrCodeWeakPassword      = "WEAK_PASSWORD"
	ErrCodeInvalidEmail      = "INVALID_EMAIL"
	ErrCodeUserDisabled      = "USER_DISABLED"
	ErrCodeProfileNotFound   = "PROFILE_NOT_FOUND"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInstanceClaimed   = "INSTANCE_CLAIMED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewAuthResolvingError はセッション状態の解決待ちエラーを生成する。
// Unknown状態（初回通知の到着前）はAnonymousとは区別して扱う。
func NewAuthResolvingError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthResolving,
		Message:  "セッション状態を確認しています。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロフィールが見つかりません。",
		Category: "profile",
		Action:   "プロフィールを作成してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInstanceClaimedError はオーナー確定済みインスタンスへのサインアップエラーを生成する。
func NewInstanceClaimedError() *APIError {
	return &APIError{
		Code:     ErrCodeInstanceClaimed,
		Message:  "このインスタンスには既にオーナーが登録されています。",
		Category: "auth",
		Action:   "既存のアカウントでログインしてください。",
	}
}
