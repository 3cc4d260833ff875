package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lifeid/internal/docstore"
)

// HealthHandler はヘルスチェックのHTTPハンドラー。
// Document Storeへの到達性を確認する。
type HealthHandler struct {
	docs docstore.Store
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(docs docstore.Store) *HealthHandler {
	return &HealthHandler{docs: docs}
}

// Check はサービスの稼働状態を返す。
// GET /api/health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	statusCode := http.StatusOK

	// 存在しないキーのGetで到達性のみを確認する
	if _, err := h.docs.Get(r.Context(), docstore.CollectionProfiles, "healthcheck"); err != nil {
		slog.Error("health check failed", slog.String("error", err.Error()))
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// Ping はDocument Storeへの到達性を確認する。healthcheckサブコマンド用。
func Ping(ctx context.Context, docs docstore.Store) error {
	_, err := docs.Get(ctx, docstore.CollectionProfiles, "healthcheck")
	return err
}
