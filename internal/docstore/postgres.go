package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/lifeid/internal/model"
)

// PostgresStore はPostgreSQLのjsonb列を使用したStore実装。
// 全コレクションを documents(collection, key, data) の1テーブルに格納する。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get は指定キーのドキュメントを取得する。見つからない場合は (nil, nil) を返す。
func (s *PostgresStore) Get(ctx context.Context, collection, key string) (Document, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewTransportError("docstore.get", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

// Query は指定フィールドが値に完全一致するドキュメントを返す。
// 決定的な挙動のためキーの昇順で返す。
func (s *PostgresStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND data->>$2 = $3 ORDER BY key`,
		collection, field, value,
	)
	if err != nil {
		return nil, model.NewTransportError("docstore.query", err)
	}
	defer rows.Close()

	results := []Document{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, model.NewTransportError("docstore.query", err)
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document in %s: %w", collection, err)
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewTransportError("docstore.query", err)
	}
	return results, nil
}

// Set はドキュメント全体を指定キーにUPSERTする。
func (s *PostgresStore) Set(ctx context.Context, collection, key string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s/%s: %w", collection, key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, data)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data`,
		collection, key, data,
	)
	if err != nil {
		return model.NewTransportError("docstore.set", err)
	}
	return nil
}

// Update は既存ドキュメントに部分フィールドをマージする。
// jsonbの連結演算子で既存dataにフィールドを重ねる。
// 指定キーが存在しない場合は *model.NotFoundError を返す。
func (s *PostgresStore) Update(ctx context.Context, collection, key string, fields Document) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode update for %s/%s: %w", collection, key, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = data || $3::jsonb
		 WHERE collection = $1 AND key = $2`,
		collection, key, data,
	)
	if err != nil {
		return model.NewTransportError("docstore.update", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return model.NewTransportError("docstore.update", err)
	}
	if rowsAffected == 0 {
		return model.NewNotFoundError(collection, key)
	}
	return nil
}

// Delete は指定キーのドキュメントを削除する。冪等。
func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	)
	if err != nil {
		return model.NewTransportError("docstore.delete", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
