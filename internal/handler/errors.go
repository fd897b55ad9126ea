package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/allergyboard/internal/middleware"
	"github.com/hitoshi/allergyboard/internal/model"
)

func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層のエラーをレスポンスに変換する。
// APIError以外は詳細をログに残して500を返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
