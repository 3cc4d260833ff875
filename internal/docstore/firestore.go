package docstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hitoshi/lifeid/internal/model"
)

// FirestoreStore はCloud Firestoreを使用したStore実装。
// コレクション名とドキュメントキーをそのままFirestoreの
// コレクション/ドキュメントIDにマッピングする。
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore はFirestoreクライアントを初期化してFirestoreStoreを生成する。
// projectIDにはGCPプロジェクトIDを指定する（FIRESTORE_PROJECT_ID）。
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &FirestoreStore{client: client}, nil
}

// Close はFirestoreクライアントを解放する。
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) doc(collection, key string) *firestore.DocumentRef {
	return s.client.Collection(collection).Doc(key)
}

// Get は指定キーのドキュメントを取得する。見つからない場合は (nil, nil) を返す。
func (s *FirestoreStore) Get(ctx context.Context, collection, key string) (Document, error) {
	snap, err := s.doc(collection, key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, model.NewTransportError("docstore.get", err)
	}
	return snap.Data(), nil
}

// Query は指定フィールドが値に完全一致するドキュメントを返す。
func (s *FirestoreStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	iter := s.client.Collection(collection).Where(field, "==", value).Documents(ctx)
	defer iter.Stop()

	results := []Document{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, model.NewTransportError("docstore.query", err)
		}
		results = append(results, snap.Data())
	}
	return results, nil
}

// Set はドキュメント全体を指定キーにUPSERTする。
func (s *FirestoreStore) Set(ctx context.Context, collection, key string, doc Document) error {
	if _, err := s.doc(collection, key).Set(ctx, doc); err != nil {
		return model.NewTransportError("docstore.set", err)
	}
	return nil
}

// Update は既存ドキュメントに部分フィールドをマージする。
// FirestoreのUpdateはドキュメント不在時にNotFoundを返すため、
// それを *model.NotFoundError にマッピングする。
func (s *FirestoreStore) Update(ctx context.Context, collection, key string, fields Document) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}

	if _, err := s.doc(collection, key).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return model.NewNotFoundError(collection, key)
		}
		return model.NewTransportError("docstore.update", err)
	}
	return nil
}

// Delete は指定キーのドキュメントを削除する。Firestoreの削除は冪等。
func (s *FirestoreStore) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.doc(collection, key).Delete(ctx); err != nil {
		return model.NewTransportError("docstore.delete", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*FirestoreStore)(nil)
