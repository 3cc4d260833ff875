package credstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lifeid/internal/docstore"
	"github.com/hitoshi/lifeid/internal/model"
	"github.com/hitoshi/lifeid/internal/security"
)

// パスワードの最小文字数。
const minPasswordLength = 6

// currentSessionKey はアクティブセッションを指すポインタドキュメントのキー。
const currentSessionKey = "current"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Local はDocument Storeを永続層とするCredential Storeの実装。
//
// レコード構成:
//   - accounts/{uid}:       {kind, uid, email, passwordHash, disabled, createdAt}
//   - authsessions/{token}: {kind, token, uid, email, createdAt, expiresAt}
//   - authstate/current:    {token} アクティブセッションへのポインタ。
//     Start()が再起動後のUnknown状態を解決するために参照する。
type Local struct {
	docs       docstore.Store
	hasher     *security.PasswordHasher
	sessionTTL time.Duration
	now        func() time.Time

	mu           sync.Mutex
	current      *model.SessionIdentity
	currentToken string
	listeners    map[int]Listener
	nextID       int
}

// NewLocal はLocalを生成する。sessionTTLはセッションの有効期間。
func NewLocal(docs docstore.Store, hasher *security.PasswordHasher, sessionTTL time.Duration) *Local {
	return &Local{
		docs:       docs,
		hasher:     hasher,
		sessionTTL: sessionTTL,
		now:        time.Now,
		listeners:  make(map[int]Listener),
	}
}

// Start は永続化されたセッションポインタからアクティブセッションを復元し、
// 最初のセッション変化通知を発行する。復元できた場合は該当identityを、
// できなかった場合はnil（Anonymous相当）を通知する。
// 購読者（Session Manager）の登録後、サーバー起動前に1回だけ呼ぶこと。
func (s *Local) Start(ctx context.Context) error {
	state, err := s.docs.Get(ctx, docstore.CollectionAuthState, currentSessionKey)
	if err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}

	var restored *model.SessionIdentity
	var restoredToken string

	if token, ok := stringField(state, "token"); ok && token != "" {
		identity, err := s.VerifyToken(ctx, token)
		if err != nil {
			return fmt.Errorf("failed to verify restored session: %w", err)
		}
		if identity != nil {
			restored = identity
			restoredToken = token
		}
	}

	s.mu.Lock()
	s.current = restored
	s.currentToken = restoredToken
	s.notifyLocked(restored)
	s.mu.Unlock()

	if restored != nil {
		slog.Info("session restored", slog.String("uid", restored.UID))
	} else {
		slog.Info("no session to restore")
	}
	return nil
}

// Authenticate はemail/passwordを検証し、成功時にセッションを確立する。
// 不明なアカウントとパスワード不一致は同じ原因コード（invalid-credential）を
// 返し、アカウントの存在を漏らさない。
func (s *Local) Authenticate(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	account, err := s.findAccountByEmail(ctx, email)
	if err != nil {
		return nil, model.WrapAuthError(model.AuthReasonNetworkRequestFailed,
			"認証サーバーへの接続に失敗しました。", err)
	}
	if account == nil {
		return nil, model.NewAuthError(model.AuthReasonInvalidCredential,
			"メールアドレスまたはパスワードが正しくありません。")
	}
	if disabled, _ := account["disabled"].(bool); disabled {
		return nil, model.NewAuthError(model.AuthReasonUserDisabled,
			"このアカウントは無効化されています。")
	}

	hash, _ := stringField(account, "passwordHash")
	if err := s.hasher.Compare(hash, password); err != nil {
		return nil, model.NewAuthError(model.AuthReasonInvalidCredential,
			"メールアドレスまたはパスワードが正しくありません。")
	}

	uid, _ := stringField(account, "uid")
	identity := &model.SessionIdentity{UID: uid, Email: email}

	if err := s.issueSession(ctx, identity); err != nil {
		return nil, model.WrapAuthError(model.AuthReasonNetworkRequestFailed,
			"セッションの確立に失敗しました。", err)
	}
	return identity, nil
}

// Register は新規アカウントを作成し、成功時にセッションを確立する。
func (s *Local) Register(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	if !emailPattern.MatchString(email) {
		return nil, model.NewAuthError(model.AuthReasonInvalidEmail,
			"メールアドレスの形式が正しくありません。")
	}
	if len(password) < minPasswordLength {
		return nil, model.NewAuthError(model.AuthReasonWeakPassword,
			fmt.Sprintf("パスワードは%d文字以上で入力してください。", minPasswordLength))
	}

	existing, err := s.findAccountByEmail(ctx, email)
	if err != nil {
		return nil, model.WrapAuthError(model.AuthReasonNetworkRequestFailed,
			"認証サーバーへの接続に失敗しました。", err)
	}
	if existing != nil {
		return nil, model.NewAuthError(model.AuthReasonEmailAlreadyInUse,
			"このメールアドレスは既に登録されています。")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	uid := uuid.New().String()
	account := docstore.Document{
		"kind":         "account",
		"uid":          uid,
		"email":        email,
		"passwordHash": hash,
		"disabled":     false,
		"createdAt":    s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.docs.Set(ctx, docstore.CollectionAccounts, uid, account); err != nil {
		return nil, model.WrapAuthError(model.AuthReasonNetworkRequestFailed,
			"アカウントの作成に失敗しました。", err)
	}

	identity := &model.SessionIdentity{UID: uid, Email: email}
	if err := s.issueSession(ctx, identity); err != nil {
		return nil, model.WrapAuthError(model.AuthReasonNetworkRequestFailed,
			"セッションの確立に失敗しました。", err)
	}

	slog.Info("account registered", slog.String("uid", uid))
	return identity, nil
}

// EndSession は現在のセッションを終了し、Anonymous相当の通知を発行する。
func (s *Local) EndSession(ctx context.Context) error {
	s.mu.Lock()
	token := s.currentToken
	s.mu.Unlock()

	if token != "" {
		if err := s.docs.Delete(ctx, docstore.CollectionAuthSessions, token); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if err := s.docs.Delete(ctx, docstore.CollectionAuthState, currentSessionKey); err != nil {
			return fmt.Errorf("failed to clear session state: %w", err)
		}
	}

	s.mu.Lock()
	s.current = nil
	s.currentToken = ""
	s.notifyLocked(nil)
	s.mu.Unlock()

	slog.Info("session ended")
	return nil
}

// OnSessionChange はリスナーを登録し、解除関数を返す。
func (s *Local) OnSessionChange(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// VerifyToken はトークンに対応するセッションの主体を返す。
// 不明・期限切れトークンは (nil, nil) を返す。
func (s *Local) VerifyToken(ctx context.Context, token string) (*model.SessionIdentity, error) {
	sess, err := s.docs.Get(ctx, docstore.CollectionAuthSessions, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	expiresAt, ok := stringField(sess, "expiresAt")
	if !ok {
		return nil, nil
	}
	exp, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil || !exp.After(s.now()) {
		return nil, nil
	}

	uid, _ := stringField(sess, "uid")
	email, _ := stringField(sess, "email")
	return &model.SessionIdentity{UID: uid, Email: email}, nil
}

// CurrentToken はアクティブセッションのトークンを返す。セッション不在時は空文字列。
func (s *Local) CurrentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentToken
}

// HasAccount はアカウントが1件以上存在するかを返す。
// シングルオーナーインスタンスのサインアップ可否判定に使用する。
func (s *Local) HasAccount(ctx context.Context) (bool, error) {
	accounts, err := s.docs.Query(ctx, docstore.CollectionAccounts, "kind", "account")
	if err != nil {
		return false, err
	}
	return len(accounts) > 0, nil
}

// CleanupExpiredSessions は期限切れのセッションレコードを削除し、削除件数を返す。
// serveモードのクリーンアップジョブから定期的に呼ばれる。
func (s *Local) CleanupExpiredSessions(ctx context.Context) (int, error) {
	sessions, err := s.docs.Query(ctx, docstore.CollectionAuthSessions, "kind", "session")
	if err != nil {
		return 0, err
	}

	deleted := 0
	now := s.now()
	for _, sess := range sessions {
		expiresAt, ok := stringField(sess, "expiresAt")
		if !ok {
			continue
		}
		exp, err := time.Parse(time.RFC3339Nano, expiresAt)
		if err != nil || exp.After(now) {
			continue
		}
		token, ok := stringField(sess, "token")
		if !ok {
			continue
		}
		if err := s.docs.Delete(ctx, docstore.CollectionAuthSessions, token); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// DeleteAccount はアカウントとそのセッションを削除する。退会処理用。
// 現在のセッションが該当アカウントのものであればAnonymous相当の通知も発行する。
func (s *Local) DeleteAccount(ctx context.Context, uid string) error {
	if err := s.docs.Delete(ctx, docstore.CollectionAccounts, uid); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	sessions, err := s.docs.Query(ctx, docstore.CollectionAuthSessions, "uid", uid)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, sess := range sessions {
		if token, ok := stringField(sess, "token"); ok {
			if err := s.docs.Delete(ctx, docstore.CollectionAuthSessions, token); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
		}
	}

	s.mu.Lock()
	if s.current != nil && s.current.UID == uid {
		_ = s.docs.Delete(ctx, docstore.CollectionAuthState, currentSessionKey)
		s.current = nil
		s.currentToken = ""
		s.notifyLocked(nil)
	}
	s.mu.Unlock()

	return nil
}

// issueSession はセッションレコードとポインタを書き込み、通知を発行する。
func (s *Local) issueSession(ctx context.Context, identity *model.SessionIdentity) error {
	token, err := generateSessionToken()
	if err != nil {
		return fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now().UTC()
	sess := docstore.Document{
		"kind":      "session",
		"token":     token,
		"uid":       identity.UID,
		"email":     identity.Email,
		"createdAt": now.Format(time.RFC3339Nano),
		"expiresAt": now.Add(s.sessionTTL).Format(time.RFC3339Nano),
	}
	if err := s.docs.Set(ctx, docstore.CollectionAuthSessions, token, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.docs.Set(ctx, docstore.CollectionAuthState, currentSessionKey,
		docstore.Document{"token": token}); err != nil {
		return fmt.Errorf("failed to save session state: %w", err)
	}

	s.mu.Lock()
	s.current = identity
	s.currentToken = token
	s.notifyLocked(identity)
	s.mu.Unlock()

	return nil
}

// notifyLocked は全リスナーへ通知を配送する。muを保持した状態で呼ぶこと。
// ロック下で直列配送することで、通知順序が発生順と一致することを保証する。
func (s *Local) notifyLocked(identity *model.SessionIdentity) {
	for _, l := range s.listeners {
		l(identity)
	}
}

// findAccountByEmail はメールアドレスでアカウントを検索する。見つからない場合は (nil, nil)。
func (s *Local) findAccountByEmail(ctx context.Context, email string) (docstore.Document, error) {
	docs, err := s.docs.Query(ctx, docstore.CollectionAccounts, "email", email)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// stringField はドキュメントから文字列フィールドを取り出す。
func stringField(doc docstore.Document, field string) (string, bool) {
	if doc == nil {
		return "", false
	}
	v, ok := doc[field].(string)
	return v, ok
}

// compile-time interface checks
var (
	_ Store         = (*Local)(nil)
	_ TokenVerifier = (*Local)(nil)
)
