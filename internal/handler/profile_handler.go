package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/lifeid/internal/metrics"
	"github.com/hitoshi/lifeid/internal/middleware"
	"github.com/hitoshi/lifeid/internal/model"
	"github.com/hitoshi/lifeid/internal/profile"
	"github.com/hitoshi/lifeid/internal/security"
)

// ProfileHandler は緊急時プロフィールのHTTPハンドラー。
type ProfileHandler struct {
	repo      profile.Repository
	sanitizer security.TextSanitizerService
	collector metrics.MetricsCollector
	now       func() time.Time
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(repo profile.Repository, sanitizer security.TextSanitizerService, collector metrics.MetricsCollector) *ProfileHandler {
	return &ProfileHandler{
		repo:      repo,
		sanitizer: sanitizer,
		collector: collector,
		now:       time.Now,
	}
}

// emergencyContactPayload は緊急連絡先のリクエスト・レスポンス表現。
type emergencyContactPayload struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
}

// profileRequest はプロフィール保存リクエストのボディ。
type profileRequest struct {
	PublicURL         string                    `json:"publicUrl"`
	FullName          string                    `json:"fullName"`
	DateOfBirth       string                    `json:"dateOfBirth"`
	BloodType         string                    `json:"bloodType"`
	Allergies         []string                  `json:"allergies"`
	Medications       []string                  `json:"medications"`
	MedicalConditions []string                  `json:"medicalConditions"`
	EmergencyContacts []emergencyContactPayload `json:"emergencyContacts"`
	Notes             string                    `json:"notes"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	ID                string                    `json:"id"`
	PublicURL         string                    `json:"publicUrl"`
	FullName          string                    `json:"fullName"`
	DateOfBirth       string                    `json:"dateOfBirth"`
	BloodType         string                    `json:"bloodType"`
	Allergies         []string                  `json:"allergies"`
	Medications       []string                  `json:"medications"`
	MedicalConditions []string                  `json:"medicalConditions"`
	EmergencyContacts []emergencyContactPayload `json:"emergencyContacts"`
	Notes             string                    `json:"notes"`
	CreatedAt         time.Time                 `json:"createdAt"`
	UpdatedAt         time.Time                 `json:"updatedAt"`
}

// GetProfile は認証ユーザー自身のプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	p, err := h.repo.GetProfileByUserID(r.Context(), identity.UID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if p == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}

	writeProfileResponse(w, http.StatusOK, p)
}

// SaveProfile はプロフィールをcreate-or-replaceで保存する。
// PUT /api/profile
// 初回保存時はIDと公開URLスラッグを採番する。
func (h *ProfileHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.FullName == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("氏名は必須です"))
		return
	}

	existing, err := h.repo.GetProfileByUserID(r.Context(), identity.UID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	now := h.now()
	p := h.fromRequest(&req)
	p.UserID = identity.UID
	p.UpdatedAt = now

	statusCode := http.StatusOK
	if existing != nil {
		// 再保存: ID・公開URL・作成時刻は維持する
		p.ID = existing.ID
		p.PublicURL = existing.PublicURL
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = uuid.NewString()
		p.CreatedAt = now
		statusCode = http.StatusCreated
	}
	if p.PublicURL == "" {
		p.PublicURL = newPublicURLSlug()
	}

	if err := h.repo.SaveProfile(r.Context(), p); err != nil {
		handleServiceError(w, err)
		return
	}
	if h.collector != nil {
		h.collector.RecordProfileSave()
	}

	writeProfileResponse(w, statusCode, p)
}

// UpdateProfile はプロフィールを部分更新する。
// PATCH /api/profile
// 許可されたフィールドのみをマージし、updatedAtは常に現在時刻へ進む。
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	fields := h.sanitizePartialFields(raw)
	if len(fields) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("更新可能なフィールドがありません"))
		return
	}

	existing, err := h.repo.GetProfileByUserID(r.Context(), identity.UID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if existing == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}

	if err := h.repo.UpdateProfile(r.Context(), existing.ID, fields); err != nil {
		handleServiceError(w, err)
		return
	}
	if h.collector != nil {
		h.collector.RecordProfileUpdate()
	}

	updated, err := h.repo.GetProfileByUserID(r.Context(), identity.UID)
	if err != nil || updated == nil {
		handleServiceError(w, err)
		return
	}

	writeProfileResponse(w, http.StatusOK, updated)
}

// DeleteProfile はプロフィールを削除する。冪等で、未作成でも204を返す。
// DELETE /api/profile
func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	existing, err := h.repo.GetProfileByUserID(r.Context(), identity.UID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if existing != nil {
		if err := h.repo.DeleteProfile(r.Context(), existing.ID); err != nil {
			handleServiceError(w, err)
			return
		}
		if h.collector != nil {
			h.collector.RecordProfileDelete()
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// PublicView は公開URLスラッグでプロフィールを返す。認証不要。
// GET /p/{publicUrl}
func (h *ProfileHandler) PublicView(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "publicUrl")
	if slug == "" {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}

	p, err := h.repo.GetProfileByPublicURL(r.Context(), slug)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if p == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}
	if h.collector != nil {
		h.collector.RecordPublicView()
	}

	writeProfileResponse(w, http.StatusOK, p)
}

// fromRequest はリクエストボディをサニタイズ済みのプロフィールへ変換する。
func (h *ProfileHandler) fromRequest(req *profileRequest) *model.EmergencyProfile {
	contacts := make([]model.EmergencyContact, 0, len(req.EmergencyContacts))
	for _, c := range req.EmergencyContacts {
		contacts = append(contacts, model.EmergencyContact{
			Name:         h.sanitizer.Sanitize(c.Name),
			Relationship: h.sanitizer.Sanitize(c.Relationship),
			Phone:        h.sanitizer.Sanitize(c.Phone),
		})
	}
	return &model.EmergencyProfile{
		PublicURL:         req.PublicURL,
		FullName:          h.sanitizer.Sanitize(req.FullName),
		DateOfBirth:       h.sanitizer.Sanitize(req.DateOfBirth),
		BloodType:         h.sanitizer.Sanitize(req.BloodType),
		Allergies:         h.sanitizeAll(req.Allergies),
		Medications:       h.sanitizeAll(req.Medications),
		MedicalConditions: h.sanitizeAll(req.MedicalConditions),
		EmergencyContacts: contacts,
		Notes:             h.sanitizer.Sanitize(req.Notes),
	}
}

func (h *ProfileHandler) sanitizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, h.sanitizer.Sanitize(v))
	}
	return out
}

// 部分更新で受け付けるフィールド。id、userId、createdAt等の不変フィールドは含めない。
var updatableFields = map[string]bool{
	"fullName":          true,
	"dateOfBirth":       true,
	"bloodType":         true,
	"allergies":         true,
	"medications":       true,
	"medicalConditions": true,
	"emergencyContacts": true,
	"notes":             true,
}

// sanitizePartialFields は許可フィールドのみを残し、文字列値をサニタイズする。
func (h *ProfileHandler) sanitizePartialFields(raw map[string]any) map[string]any {
	fields := make(map[string]any, len(raw))
	for key, value := range raw {
		if !updatableFields[key] {
			continue
		}
		fields[key] = h.sanitizeValue(value)
	}
	return fields
}

func (h *ProfileHandler) sanitizeValue(value any) any {
	switch v := value.(type) {
	case string:
		return h.sanitizer.Sanitize(v)
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, h.sanitizeValue(item))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = h.sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}

func writeProfileResponse(w http.ResponseWriter, statusCode int, p *model.EmergencyProfile) {
	contacts := make([]emergencyContactPayload, 0, len(p.EmergencyContacts))
	for _, c := range p.EmergencyContacts {
		contacts = append(contacts, emergencyContactPayload{
			Name:         c.Name,
			Relationship: c.Relationship,
			Phone:        c.Phone,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(profileResponse{
		ID:                p.ID,
		PublicURL:         p.PublicURL,
		FullName:          p.FullName,
		DateOfBirth:       p.DateOfBirth,
		BloodType:         p.BloodType,
		Allergies:         p.Allergies,
		Medications:       p.Medications,
		MedicalConditions: p.MedicalConditions,
		EmergencyContacts: contacts,
		Notes:             p.Notes,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	})
}

// newPublicURLSlug は公開URL用の短いスラッグを採番する。
// 一意性はストア側の制約に委ねる。
func newPublicURLSlug() string {
	return uuid.NewString()[:8]
}
