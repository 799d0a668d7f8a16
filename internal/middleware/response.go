package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope はすべてのAPIレスポンスの統一フォーマット。
type Envelope struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	Data        any    `json:"data,omitempty"`
	Error       string `json:"error,omitempty"`
}

// WriteJSON は指定ステータスでエンベロープを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteErrorResponse は失敗レスポンスを書き込む。detailが空の場合はerrorフィールドを省略する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, message, detail string) {
	WriteJSON(w, statusCode, Envelope{
		Success: false,
		Message: message,
		Error:   detail,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "サーバーエラーが発生しました。", "")
}
