// Package profile は緊急時プロフィールの永続化を担う。
//
// Repositoryはインメモリ状態を持たないステートレスなマッピング層であり、
// Document Store上のレコードとmodel.EmergencyProfileを相互変換する。
// タイムスタンプはストア上ではISO-8601文字列、呼び出し側にはtime.Timeとして
// 公開され、読み書きの往復で精度を失わない。
package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/lifeid/internal/docstore"
	"github.com/hitoshi/lifeid/internal/model"
)

// Repository は緊急時プロフィールの永続化インターフェース。
type Repository interface {
	// SaveProfile はプロフィール全体をprofile.IDでUPSERTする。
	// 存在チェックは行わず、create-or-replaceとして動作する。
	SaveProfile(ctx context.Context, profile *model.EmergencyProfile) error

	// GetProfileByUserID は所有者UIDでプロフィールを検索する。
	// 見つからない場合は (nil, nil) を返す。複数一致時は最初の1件を採用する。
	GetProfileByUserID(ctx context.Context, userID string) (*model.EmergencyProfile, error)

	// GetProfileByPublicURL は公開URLスラッグでプロフィールを検索する。
	// 未認証の公開閲覧経路から利用される。見つからない場合は (nil, nil) を返す。
	GetProfileByPublicURL(ctx context.Context, publicURL string) (*model.EmergencyProfile, error)

	// UpdateProfile は部分フィールドを既存レコードへマージし、
	// updatedAtを無条件に現在時刻へ進める（fields内のupdatedAt指定は上書きされる）。
	// 指定IDのレコードが存在しない場合は *model.NotFoundError を返す。
	UpdateProfile(ctx context.Context, profileID string, fields map[string]any) error

	// DeleteProfile はプロフィールを削除する。存在しないIDの削除は冪等でエラーではない。
	DeleteProfile(ctx context.Context, profileID string) error
}

// docRepository はDocument Storeを用いたRepositoryの実装。
type docRepository struct {
	docs docstore.Store
	now  func() time.Time
}

// 実装確認
var _ Repository = (*docRepository)(nil)

// NewRepository は新しいRepositoryを作成する。
func NewRepository(docs docstore.Store) Repository {
	return &docRepository{
		docs: docs,
		now:  time.Now,
	}
}

func (r *docRepository) SaveProfile(ctx context.Context, profile *model.EmergencyProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	return r.docs.Set(ctx, docstore.CollectionProfiles, profile.ID, encodeProfile(profile))
}

func (r *docRepository) GetProfileByUserID(ctx context.Context, userID string) (*model.EmergencyProfile, error) {
	return r.queryOne(ctx, "userId", userID)
}

func (r *docRepository) GetProfileByPublicURL(ctx context.Context, publicURL string) (*model.EmergencyProfile, error) {
	return r.queryOne(ctx, "publicUrl", publicURL)
}

func (r *docRepository) queryOne(ctx context.Context, field, value string) (*model.EmergencyProfile, error) {
	docs, err := r.docs.Query(ctx, docstore.CollectionProfiles, field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles by %s: %w", field, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	profile, err := decodeProfile(docs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return profile, nil
}

func (r *docRepository) UpdateProfile(ctx context.Context, profileID string, fields map[string]any) error {
	merged := make(docstore.Document, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	// updatedAtは呼び出し側の指定に関わらず現在時刻で上書きする
	merged["updatedAt"] = r.now().Format(time.RFC3339Nano)

	if err := r.docs.Update(ctx, docstore.CollectionProfiles, profileID, merged); err != nil {
		return err
	}
	return nil
}

func (r *docRepository) DeleteProfile(ctx context.Context, profileID string) error {
	return r.docs.Delete(ctx, docstore.CollectionProfiles, profileID)
}

// --- ワイヤ形式の変換 ---

// encodeProfile はプロフィールをDocument Store上のレコード形式へ変換する。
// time.Time系フィールドはISO-8601（RFC 3339）文字列として永続化する。
func encodeProfile(p *model.EmergencyProfile) docstore.Document {
	contacts := make([]any, 0, len(p.EmergencyContacts))
	for _, c := range p.EmergencyContacts {
		contacts = append(contacts, map[string]any{
			"name":         c.Name,
			"relationship": c.Relationship,
			"phone":        c.Phone,
		})
	}
	return docstore.Document{
		"id":                p.ID,
		"userId":            p.UserID,
		"publicUrl":         p.PublicURL,
		"fullName":          p.FullName,
		"dateOfBirth":       p.DateOfBirth,
		"bloodType":         p.BloodType,
		"allergies":         encodeStrings(p.Allergies),
		"medications":       encodeStrings(p.Medications),
		"medicalConditions": encodeStrings(p.MedicalConditions),
		"emergencyContacts": contacts,
		"notes":             p.Notes,
		"createdAt":         p.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":         p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// decodeProfile はレコードをプロフィールへ復元する。
// タイムスタンプ文字列のパース失敗はデータ破損としてエラーにする。
func decodeProfile(doc docstore.Document) (*model.EmergencyProfile, error) {
	createdAt, err := parseTimestamp(doc, "createdAt")
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTimestamp(doc, "updatedAt")
	if err != nil {
		return nil, err
	}
	return &model.EmergencyProfile{
		ID:                stringField(doc, "id"),
		UserID:            stringField(doc, "userId"),
		PublicURL:         stringField(doc, "publicUrl"),
		FullName:          stringField(doc, "fullName"),
		DateOfBirth:       stringField(doc, "dateOfBirth"),
		BloodType:         stringField(doc, "bloodType"),
		Allergies:         decodeStrings(doc["allergies"]),
		Medications:       decodeStrings(doc["medications"]),
		MedicalConditions: decodeStrings(doc["medicalConditions"]),
		EmergencyContacts: decodeContacts(doc["emergencyContacts"]),
		Notes:             stringField(doc, "notes"),
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

func parseTimestamp(doc docstore.Document, field string) (time.Time, error) {
	raw := stringField(doc, field)
	if raw == "" {
		return time.Time{}, fmt.Errorf("profile record is missing %s", field)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s timestamp %q: %w", field, raw, err)
	}
	return t, nil
}

func encodeStrings(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func decodeStrings(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeContacts(raw any) []model.EmergencyContact {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]model.EmergencyContact, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, model.EmergencyContact{
			Name:         stringField(m, "name"),
			Relationship: stringField(m, "relationship"),
			Phone:        stringField(m, "phone"),
		})
	}
	return out
}

func stringField(doc docstore.Document, field string) string {
	if s, ok := doc[field].(string); ok {
		return s
	}
	return ""
}
