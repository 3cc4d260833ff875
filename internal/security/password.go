// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import "golang.org/x/crypto/bcrypt"

// PasswordHasher はbcryptによるパスワードのハッシュ化と検証を提供する。
// 平文パスワードをログ・永続化してはならない。
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher は指定コストのPasswordHasherを生成する。
// コストが範囲外（bcrypt.MinCost〜bcrypt.MaxCost）の場合はデフォルトコストに丸める。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash はパスワードのbcryptハッシュを生成する。
func (h *PasswordHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare は保存済みハッシュとパスワードを定数時間で比較する。
// 一致すればnil、不一致または不正なハッシュの場合はエラーを返す。
func (h *PasswordHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
