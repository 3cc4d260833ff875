package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hitoshi/lifeid/internal/model"
)

// MemoryStore はインメモリのStore実装。
// テストおよびmemoryドライバ起動時に使用する。
// 格納時にJSONラウンドトリップで複製するため、取り出される値の型は
// PostgreSQL/Firestoreドライバと同じJSON互換型になる。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
	}
}

// Get は指定キーのドキュメントを取得する。見つからない場合は (nil, nil) を返す。
func (s *MemoryStore) Get(_ context.Context, collection, key string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][key]
	if !ok {
		return nil, nil
	}
	return cloneDocument(doc)
}

// Query は指定フィールドが値に完全一致するドキュメントを返す。
// 決定的な挙動のためキーの昇順で返す。
func (s *MemoryStore) Query(_ context.Context, collection, field, value string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.collections[collection]
	keys := make([]string, 0, len(col))
	for k := range col {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := []Document{}
	for _, k := range keys {
		doc := col[k]
		if v, ok := doc[field].(string); ok && v == value {
			c, err := cloneDocument(doc)
			if err != nil {
				return nil, err
			}
			results = append(results, c)
		}
	}
	return results, nil
}

// Set はドキュメント全体を指定キーにUPSERTする。
func (s *MemoryStore) Set(_ context.Context, collection, key string, doc Document) error {
	c, err := cloneDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Document)
	}
	s.collections[collection][key] = c
	return nil
}

// Update は既存ドキュメントに部分フィールドをマージする。
// 指定キーが存在しない場合は *model.NotFoundError を返す。
func (s *MemoryStore) Update(_ context.Context, collection, key string, fields Document) error {
	c, err := cloneDocument(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][key]
	if !ok {
		return model.NewNotFoundError(collection, key)
	}
	for k, v := range c {
		doc[k] = v
	}
	return nil
}

// Delete は指定キーのドキュメントを削除する。冪等。
func (s *MemoryStore) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections[collection], key)
	return nil
}

// cloneDocument はJSONラウンドトリップでドキュメントを複製する。
// 呼び出し元とストアの間でスライス・マップを共有しないための措置。
func cloneDocument(doc Document) (Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}
	var c Document
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to clone document: %w", err)
	}
	return c, nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
