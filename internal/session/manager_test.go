package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/lifeid/internal/credstore"
	"github.com/hitoshi/lifeid/internal/model"
)

// --- モック定義 ---

// mockCredStore はcredstore.Storeのモック実装。
// 登録されたリスナーへの通知はテストコードがemitで明示的に行う。
type mockCredStore struct {
	authenticateFn func(ctx context.Context, email, password string) (*model.SessionIdentity, error)
	registerFn     func(ctx context.Context, email, password string) (*model.SessionIdentity, error)
	endSessionFn   func(ctx context.Context) error

	listener     credstore.Listener
	unsubscribed bool
}

func (m *mockCredStore) Authenticate(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockCredStore) Register(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockCredStore) EndSession(ctx context.Context) error {
	if m.endSessionFn != nil {
		return m.endSessionFn(ctx)
	}
	return nil
}

func (m *mockCredStore) OnSessionChange(l credstore.Listener) func() {
	m.listener = l
	return func() { m.unsubscribed = true }
}

// emit はセッション変化通知を配送する。
func (m *mockCredStore) emit(identity *model.SessionIdentity) {
	if m.listener != nil {
		m.listener(identity)
	}
}

// mockBridge はUserRecorderのモック実装。
type mockBridge struct {
	createUserRecordFn func(ctx context.Context, uid, email string) error
}

func (m *mockBridge) CreateUserRecord(ctx context.Context, uid, email string) error {
	if m.createUserRecordFn != nil {
		return m.createUserRecordFn(ctx, uid, email)
	}
	return nil
}

// --- compile-time interface checks ---
var _ credstore.Store = (*mockCredStore)(nil)
var _ UserRecorder = (*mockBridge)(nil)

// --- テスト ---

// 初期状態がUnknownであり、Anonymousと区別されることを検証
func TestManager_InitialState_IsUnknown(t *testing.T) {
	creds := &mockCredStore{}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	state, identity := m.Current()
	if state != StateUnknown {
		t.Errorf("state = %v, want %v", state, StateUnknown)
	}
	if state == StateAnonymous {
		t.Error("Unknown must not equal Anonymous")
	}
	if identity != nil {
		t.Errorf("identity = %v, want nil", identity)
	}
}

// identity付き通知でAuthenticatedへ遷移することを検証
func TestManager_Notification_WithIdentity_TransitionsToAuthenticated(t *testing.T) {
	creds := &mockCredStore{}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	creds.emit(&model.SessionIdentity{UID: "u1", Email: "owner@example.com"})

	state, identity := m.Current()
	if state != StateAuthenticated {
		t.Errorf("state = %v, want %v", state, StateAuthenticated)
	}
	if identity == nil || identity.UID != "u1" {
		t.Errorf("identity = %v, want UID u1", identity)
	}
}

// identityなし通知でAnonymousへ遷移することを検証
func TestManager_Notification_WithoutIdentity_TransitionsToAnonymous(t *testing.T) {
	creds := &mockCredStore{}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	creds.emit(nil)

	state, identity := m.Current()
	if state != StateAnonymous {
		t.Errorf("state = %v, want %v", state, StateAnonymous)
	}
	if identity != nil {
		t.Errorf("identity = %v, want nil", identity)
	}
}

// 通知の到着順に状態が更新される（last-notification-wins）ことを検証
func TestManager_Notifications_LastWins(t *testing.T) {
	creds := &mockCredStore{}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	creds.emit(&model.SessionIdentity{UID: "u1", Email: "a@example.com"})
	creds.emit(nil)
	creds.emit(&model.SessionIdentity{UID: "u2", Email: "b@example.com"})

	state, identity := m.Current()
	if state != StateAuthenticated {
		t.Errorf("state = %v, want %v", state, StateAuthenticated)
	}
	if identity == nil || identity.UID != "u2" {
		t.Errorf("identity = %v, want UID u2", identity)
	}
}

// Loginは成功しても自身では状態を変更しないことを検証
func TestManager_Login_DoesNotMutateState(t *testing.T) {
	creds := &mockCredStore{
		authenticateFn: func(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
			// 通知を発行しないCredential Store（遅延配送を模擬）
			return &model.SessionIdentity{UID: "u1", Email: email}, nil
		},
	}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	if err := m.Login(context.Background(), "owner@example.com", "secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	state, _ := m.Current()
	if state != StateUnknown {
		t.Errorf("state after Login without notification = %v, want %v", state, StateUnknown)
	}
}

// Login失敗時にAuthErrorの原因コードが保持され、状態が変化しないことを検証
func TestManager_Login_InvalidCredential_PreservesReasonAndState(t *testing.T) {
	creds := &mockCredStore{
		authenticateFn: func(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
			return nil, model.NewAuthError(model.AuthReasonInvalidCredential, "bad credentials")
		},
	}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	// 事前にAnonymousへ遷移させておく
	creds.emit(nil)

	err := m.Login(context.Background(), "bad@example.com", "wrongpass")
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login() error = %v, want *model.AuthError", err)
	}
	if authErr.Reason != model.AuthReasonInvalidCredential {
		t.Errorf("Reason = %q, want %q", authErr.Reason, model.AuthReasonInvalidCredential)
	}

	state, _ := m.Current()
	if state != StateAnonymous {
		t.Errorf("state after failed Login = %v, want unchanged %v", state, StateAnonymous)
	}
}

// Signup成功時にブリッジがuid/emailで呼ばれることを検証
func TestManager_Signup_InvokesBridge(t *testing.T) {
	creds := &mockCredStore{
		registerFn: func(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
			return &model.SessionIdentity{UID: "u1", Email: email}, nil
		},
	}

	var gotUID, gotEmail string
	bridge := &mockBridge{
		createUserRecordFn: func(ctx context.Context, uid, email string) error {
			gotUID, gotEmail = uid, email
			return nil
		},
	}
	m := NewManager(creds, bridge)
	defer m.Close()

	if err := m.Signup(context.Background(), "owner@example.com", "secret123"); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if gotUID != "u1" || gotEmail != "owner@example.com" {
		t.Errorf("bridge called with (%q, %q), want (u1, owner@example.com)", gotUID, gotEmail)
	}
}

// ブリッジ失敗時にエラーが返るが、セッションはロールバックされないことを検証
func TestManager_Signup_BridgeFailure_NoRollback(t *testing.T) {
	endSessionCalled := false
	creds := &mockCredStore{
		registerFn: func(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
			identity := &model.SessionIdentity{UID: "u1", Email: email}
			return identity, nil
		},
		endSessionFn: func(ctx context.Context) error {
			endSessionCalled = true
			return nil
		},
	}
	bridge := &mockBridge{
		createUserRecordFn: func(ctx context.Context, uid, email string) error {
			return errors.New("docstore unavailable")
		},
	}
	m := NewManager(creds, bridge)
	defer m.Close()

	err := m.Signup(context.Background(), "owner@example.com", "secret123")
	if err == nil {
		t.Fatal("Signup() with failing bridge should return error")
	}
	if endSessionCalled {
		t.Error("Signup() must not roll back the created session")
	}
}

// Signup失敗（登録自体の失敗）時にブリッジが呼ばれないことを検証
func TestManager_Signup_RegisterFails_BridgeNotCalled(t *testing.T) {
	creds := &mockCredStore{
		registerFn: func(ctx context.Context, email, password string) (*model.SessionIdentity, error) {
			return nil, model.NewAuthError(model.AuthReasonEmailAlreadyInUse, "in use")
		},
	}
	bridgeCalled := false
	bridge := &mockBridge{
		createUserRecordFn: func(ctx context.Context, uid, email string) error {
			bridgeCalled = true
			return nil
		},
	}
	m := NewManager(creds, bridge)
	defer m.Close()

	if err := m.Signup(context.Background(), "owner@example.com", "secret123"); err == nil {
		t.Fatal("Signup() should fail when Register fails")
	}
	if bridgeCalled {
		t.Error("bridge must not be called when Register fails")
	}
}

// LogoutがEndSessionへ委譲することを検証
func TestManager_Logout_DelegatesToEndSession(t *testing.T) {
	called := false
	creds := &mockCredStore{
		endSessionFn: func(ctx context.Context) error {
			called = true
			return nil
		},
	}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if !called {
		t.Error("expected EndSession to be called")
	}
}

// WaitForChangeが次の遷移まで待ち、遷移後の状態を返すことを検証
func TestManager_WaitForChange_ReturnsAfterTransition(t *testing.T) {
	creds := &mockCredStore{}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	type result struct {
		state    State
		identity *model.SessionIdentity
		err      error
	}
	done := make(chan result, 1)
	go func() {
		state, identity, err := m.WaitForChange(context.Background())
		done <- result{state, identity, err}
	}()

	// 待機側がチャネルを取得するまで少し待ってから通知する
	time.Sleep(10 * time.Millisecond)
	creds.emit(&model.SessionIdentity{UID: "u1", Email: "owner@example.com"})

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("WaitForChange() error = %v", r.err)
		}
		if r.state != StateAuthenticated {
			t.Errorf("state = %v, want %v", r.state, StateAuthenticated)
		}
		if r.identity == nil || r.identity.UID != "u1" {
			t.Errorf("identity = %v, want UID u1", r.identity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForChange() did not return after transition")
	}
}

// WaitForChangeがコンテキストキャンセルで解除されることを検証
func TestManager_WaitForChange_ContextCancel(t *testing.T) {
	creds := &mockCredStore{}
	m := NewManager(creds, &mockBridge{})
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := m.WaitForChange(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForChange() error = %v, want context.DeadlineExceeded", err)
	}
}

// Close後は通知が状態に反映されないことを検証
func TestManager_Close_Unsubscribes(t *testing.T) {
	creds := &mockCredStore{}
	m := NewManager(creds, &mockBridge{})

	m.Close()
	if !creds.unsubscribed {
		t.Error("Close() should unsubscribe from the credential store")
	}
}

// Stateの文字列表現を検証
func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnknown, "unknown"},
		{StateAuthenticated, "authenticated"},
		{StateAnonymous, "anonymous"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
