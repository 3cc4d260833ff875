// Package session はプロセス全体の認証状態を管理するSession Managerを提供する。
//
// 状態はCredential Storeのセッション変化通知のみから導出される。
// Login/Signup/Logoutはリクエスト/結果の操作であり、状態そのものは変更しない:
// 呼び出しの成功と状態遷移は独立したイベントであり、遷移を待つ必要がある
// 呼び出し元はWaitForChangeを使用すること。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/lifeid/internal/credstore"
	"github.com/hitoshi/lifeid/internal/model"
)

// State はセッション状態を表す。
type State int

const (
	// StateUnknown は初回通知の到着前の状態。
	// Anonymousとは区別され、依存するUIは何も描画してはならない。
	StateUnknown State = iota
	// StateAuthenticated はセッションが確立している状態。
	StateAuthenticated
	// StateAnonymous はセッションが存在しない状態。
	StateAnonymous
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// UserRecorder はサインアップ成功時にユーザーレコードを作成するブリッジのインターフェース。
type UserRecorder interface {
	CreateUserRecord(ctx context.Context, uid, email string) error
}

// Manager はプロセス全体で単一の現在セッションを所有する。
// 生成時にCredential Storeへの購読を1つだけ登録し、以後の状態は
// 通知の到着順（last-notification-wins）で更新される。
type Manager struct {
	creds  credstore.Store
	bridge UserRecorder

	mu          sync.Mutex
	state       State
	identity    *model.SessionIdentity
	transition  chan struct{} // 次の遷移でcloseされるブロードキャスト用チャネル
	unsubscribe func()
}

// NewManager はManagerを生成し、Credential Storeへの購読を登録する。
// 初期状態はUnknownで、最初の通知が到着するまで維持される。
func NewManager(creds credstore.Store, bridge UserRecorder) *Manager {
	m := &Manager{
		creds:      creds,
		bridge:     bridge,
		state:      StateUnknown,
		transition: make(chan struct{}),
	}
	m.unsubscribe = creds.OnSessionChange(m.handleSessionChange)
	return m
}

// Close は購読を解除する。以後の通知は状態に反映されない。
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Current は現在の状態とidentityを返す。
// identityはStateAuthenticatedの場合のみ非nil。
func (m *Manager) Current() (State, *model.SessionIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.identity
}

// WaitForChange は次の状態遷移を待ち、遷移後の状態とidentityを返す。
// Login/Signup/Logoutの完了は状態遷移の完了を意味しないため、
// 遷移後の状態が必要な呼び出し元はこのメソッドで同期すること。
func (m *Manager) WaitForChange(ctx context.Context) (State, *model.SessionIdentity, error) {
	m.mu.Lock()
	ch := m.transition
	m.mu.Unlock()

	select {
	case <-ch:
		state, identity := m.Current()
		return state, identity, nil
	case <-ctx.Done():
		return StateUnknown, nil, ctx.Err()
	}
}

// Login はCredential Storeに認証を委譲する。
// 失敗時は原因コードを保持した *model.AuthError がそのまま返る。
// 成功してもAuthenticatedへの遷移が完了しているとは限らない。
func (m *Manager) Login(ctx context.Context, email, password string) error {
	if _, err := m.creds.Authenticate(ctx, email, password); err != nil {
		return err
	}
	return nil
}

// Signup はCredential Storeに登録を委譲し、成功時には戻る前に
// User Registration Bridgeを同期的に実行する。
//
// ブリッジが失敗した場合もセッションは既に作成されており、ロールバックは
// 行わない（補償トランザクションが存在しないため）。エラーは呼び出し元へ
// 返されるが、結果として残る不整合は設計上許容された状態である。
func (m *Manager) Signup(ctx context.Context, email, password string) error {
	identity, err := m.creds.Register(ctx, email, password)
	if err != nil {
		return err
	}

	if err := m.bridge.CreateUserRecord(ctx, identity.UID, identity.Email); err != nil {
		slog.Error("user record creation failed after signup; session remains",
			slog.String("uid", identity.UID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create user record for %s: %w", identity.UID, err)
	}
	return nil
}

// Logout はCredential Storeにセッション終了を委譲する。
// 成功後の通知でAnonymousへの遷移が観測される。
func (m *Manager) Logout(ctx context.Context) error {
	return m.creds.EndSession(ctx)
}

// handleSessionChange はCredential Storeからの通知を状態に反映する。
// 通知はCredential Storeが発生順に直列配送するため、ここでの順序付けは不要。
func (m *Manager) handleSessionChange(identity *model.SessionIdentity) {
	m.mu.Lock()
	prev := m.state
	if identity != nil {
		m.state = StateAuthenticated
		m.identity = identity
	} else {
		m.state = StateAnonymous
		m.identity = nil
	}
	next := m.state

	// 遷移待ちの全呼び出し元を起こし、次の遷移用チャネルを張り直す
	close(m.transition)
	m.transition = make(chan struct{})
	m.mu.Unlock()

	slog.Info("session state changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
}
