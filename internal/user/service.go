// Package user はユーザーレコード管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lifeid/internal/docstore"
	"github.com/hitoshi/lifeid/internal/profile"
)

// AccountDeleter はCredential Store側のアカウント削除インターフェース。
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, uid string) error
}

// Bridge はサインアップ成功時にユーザーレコードを作成する登録ブリッジ。
// レコードは書き込み専用で、このサービスから読み返されることはない。
type Bridge struct {
	docs docstore.Store
	now  func() time.Time
}

// NewBridge はBridgeの新しいインスタンスを生成する。
func NewBridge(docs docstore.Store) *Bridge {
	return &Bridge{
		docs: docs,
		now:  time.Now,
	}
}

// CreateUserRecord はusersコレクションへuidをキーにレコードを書き込む。
// 読み取り・存在チェックは行わず、既存レコードは無条件に上書きする
// （uidの一意性はCredential Storeが保証済み）。
func (b *Bridge) CreateUserRecord(ctx context.Context, uid, email string) error {
	doc := docstore.Document{
		"uid":       uid,
		"email":     email,
		"createdAt": b.now().Format(time.RFC3339Nano),
	}
	if err := b.docs.Set(ctx, docstore.CollectionUsers, uid, doc); err != nil {
		return fmt.Errorf("failed to create user record: %w", err)
	}
	return nil
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	docs        docstore.Store
	profileRepo profile.Repository
	accounts    AccountDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(docs docstore.Store, profileRepo profile.Repository, accounts AccountDeleter) *Service {
	return &Service{
		docs:        docs,
		profileRepo: profileRepo,
		accounts:    accounts,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: プロフィール → ユーザーレコード → アカウント（+ セッション）。
// 各ステップは独立したリクエストであり、途中失敗時のロールバックは行わない。
func (s *Service) Withdraw(ctx context.Context, uid string) error {
	slog.Info("退会処理を開始します",
		slog.String("uid", uid),
	)

	// 1. プロフィールを削除（未作成の場合は何もしない）
	p, err := s.profileRepo.GetProfileByUserID(ctx, uid)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p != nil {
		if err := s.profileRepo.DeleteProfile(ctx, p.ID); err != nil {
			return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
		}
	}

	// 2. ユーザーレコードを削除
	if err := s.docs.Delete(ctx, docstore.CollectionUsers, uid); err != nil {
		return fmt.Errorf("ユーザーレコードの削除に失敗しました: %w", err)
	}

	// 3. アカウントとセッションを削除
	if err := s.accounts.DeleteAccount(ctx, uid); err != nil {
		return fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("uid", uid),
	)

	return nil
}
