// Package docstore はコレクション単位のキー付きドキュメント永続化を提供する。
//
// Document Storeは外部同期された共有可変状態として扱う。ローカルキャッシュ、
// read-modify-writeトランザクション、楽観ロックは持たず、同一キーへの
// 並行書き込みはストレージ層のlast-write-winsに従う。
package docstore

import "context"

// コレクション名。
const (
	CollectionProfiles     = "profiles"
	CollectionUsers        = "users"
	CollectionAccounts     = "accounts"
	CollectionAuthSessions = "authsessions"
	CollectionAuthState    = "authstate"
)

// Document はストアに永続化されるレコードを表す。
// 値はJSON互換の型（string, float64, bool, []any, map[string]any, nil）に限る。
type Document = map[string]any

// Store はドキュメント永続化のインターフェース。
type Store interface {
	// Get は指定キーのドキュメントを取得する。見つからない場合は (nil, nil) を返す。
	Get(ctx context.Context, collection, key string) (Document, error)

	// Query は指定フィールドが値に完全一致するドキュメントを返す。
	// 一致なしは空スライスを返す（エラーではない）。返却順はストア依存。
	Query(ctx context.Context, collection, field, value string) ([]Document, error)

	// Set はドキュメント全体を指定キーにUPSERTする。既存レコードは置き換える。
	Set(ctx context.Context, collection, key string, doc Document) error

	// Update は既存ドキュメントに部分フィールドをマージする。
	// 指定キーが存在しない場合は *model.NotFoundError を返す。
	Update(ctx context.Context, collection, key string, fields Document) error

	// Delete は指定キーのドキュメントを削除する。存在しないキーの削除は冪等でエラーではない。
	Delete(ctx context.Context, collection, key string) error
}
