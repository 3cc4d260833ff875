// Package model はドメインモデルを定義する。
package model

import "time"

// SessionIdentity は認証済みセッションの主体を表す。
// セッションが有効な間のみ存在し、Session Managerが単一の現在値を所有する。
// セッション継続中はイミュータブルとして扱う。
type SessionIdentity struct {
	UID   string
	Email string
}

// EmergencyProfile は緊急時プロフィールを表す。
// 所有者（UserID）からの認証付きアクセスと、公開URL（PublicURL）からの
// 未認証アクセスの2系統で参照される。
// CreatedAt <= UpdatedAt が常に成立する。
type EmergencyProfile struct {
	ID        string
	UserID    string
	PublicURL string

	FullName          string
	DateOfBirth       string // "2006-01-02" 形式
	BloodType         string
	Allergies         []string
	Medications       []string
	MedicalConditions []string
	EmergencyContacts []EmergencyContact
	Notes             string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmergencyContact は緊急連絡先を表す。
type EmergencyContact struct {
	Name         string
	Relationship string
	Phone        string
}

// UserRecord はサインアップ時に1回だけ作成されるユーザーレコードを表す。
// このコアからは書き込み専用で、読み返されることはない。
type UserRecord struct {
	UID       string
	Email     string
	CreatedAt time.Time
}
