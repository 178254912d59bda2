package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/codepair/internal/chat"
	"github.com/hitoshi/codepair/internal/model"
)

// ChatServiceInterface はトークン発行ハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	IssueToken(ctx context.Context, user *model.User) (*chat.Token, error)
}

// ChatHandler はチャット・ビデオ用トークンのHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

type chatTokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserImage string `json:"userImage"`
}

// GetToken は認証ユーザー用のクライアントトークンを返す。
// GET /api/chat/token
func (h *ChatHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	token, err := h.service.IssueToken(r.Context(), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatTokenResponse{
		Token:     token.Token,
		UserID:    token.UserID,
		UserName:  token.UserName,
		UserImage: token.UserImage,
	})
}
