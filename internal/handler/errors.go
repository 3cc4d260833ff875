package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lifeid/internal/model"
)

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスにマッピングする。
// AuthErrorは原因コードを保持したままステータスとエラーコードに変換し、
// NotFoundErrorは404、それ以外は内部サーバーエラーとして扱う。
func handleServiceError(w http.ResponseWriter, err error) {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		statusCode, apiErr := mapAuthError(authErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	var nfErr *model.NotFoundError
	if errors.As(err, &nfErr) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// 上記以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAuthError は認証エラーの原因コードをHTTPステータスとAPIErrorに変換する。
// 原因コードはレスポンスのエラーコードとして保持され、途中で失われない。
func mapAuthError(authErr *model.AuthError) (int, *model.APIError) {
	switch authErr.Reason {
	case model.AuthReasonInvalidCredential:
		return http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeInvalidCredential,
			Message:  "メールアドレスまたはパスワードが正しくありません。",
			Category: "auth",
			Action:   "入力内容を確認して再度お試しください。",
		}
	case model.AuthReasonEmailAlreadyInUse:
		return http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeEmailInUse,
			Message:  "このメールアドレスは既に使用されています。",
			Category: "auth",
			Action:   "別のメールアドレスを使用するか、ログインしてください。",
		}
	case model.AuthReasonWeakPassword:
		return http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeWeakPassword,
			Message:  "パスワードは6文字以上である必要があります。",
			Category: "validation",
			Action:   "より長いパスワードを設定してください。",
		}
	case model.AuthReasonInvalidEmail:
		return http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidEmail,
			Message:  "メールアドレスの形式が正しくありません。",
			Category: "validation",
			Action:   "正しいメールアドレスを入力してください。",
		}
	case model.AuthReasonUserDisabled:
		return http.StatusForbidden, &model.APIError{
			Code:     model.ErrCodeUserDisabled,
			Message:  "このアカウントは無効化されています。",
			Category: "auth",
			Action:   "管理者にお問い合わせください。",
		}
	case model.AuthReasonNetworkRequestFailed:
		return http.StatusBadGateway, &model.APIError{
			Code:     "NETWORK_REQUEST_FAILED",
			Message:  "認証サービスへの接続に失敗しました。",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		}
	default:
		return http.StatusInternalServerError, &model.APIError{
			Code:     "AUTH_ERROR",
			Message:  "認証処理に失敗しました。",
			Category: "auth",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeAuthResolving:
		return http.StatusServiceUnavailable
	case model.ErrCodeProfileNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidEmail, model.ErrCodeWeakPassword:
		return http.StatusBadRequest
	case model.ErrCodeInstanceClaimed, model.ErrCodeEmailInUse:
		return http.StatusConflict
	case model.ErrCodeUserDisabled:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
