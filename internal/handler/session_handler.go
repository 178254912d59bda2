package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/codepair/internal/model"
	"github.com/hitoshi/codepair/internal/session"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	CreateSession(ctx context.Context, host *model.User, in session.CreateInput) (*model.SessionDetail, error)
	ListActiveSessions(ctx context.Context) ([]model.SessionDetail, error)
	ListMyRecentSessions(ctx context.Context, user *model.User) ([]model.SessionDetail, error)
	GetSessionByID(ctx context.Context, id string) (*model.SessionDetail, error)
	JoinSession(ctx context.Context, id string, user *model.User) (*model.SessionDetail, error)
	EndSession(ctx context.Context, id string, user *model.User) (*session.EndResult, error)
}

// SessionHandler はセッションライフサイクルのHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// createSessionRequest はセッション作成リクエストのボディ。
type createSessionRequest struct {
	Problem    string `json:"problem"`
	Difficulty string `json:"difficulty"`
}

// CreateSession は認証ユーザーをホストとしてセッションを作成する。
// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	detail, err := h.service.CreateSession(r.Context(), user, session.CreateInput{
		Problem:    req.Problem,
		Difficulty: req.Difficulty,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionEnvelope{Session: toSessionResponse(detail)})
}

// ListActiveSessions はアクティブなセッションを新しい順に返す。
// GET /api/sessions/active
func (h *SessionHandler) ListActiveSessions(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.ListActiveSessions(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionsEnvelope{Sessions: toSessionResponses(details)})
}

// ListMyRecentSessions は認証ユーザーが関わった完了済みセッションを返す。
// GET /api/sessions/my-recent
func (h *SessionHandler) ListMyRecentSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	details, err := h.service.ListMyRecentSessions(r.Context(), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionsEnvelope{Sessions: toSessionResponses(details)})
}

// GetSession はセッションをホスト・参加者を展開して返す。
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetSessionByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionEnvelope{Session: toSessionResponse(detail)})
}

// JoinSession は認証ユーザーを参加者としてセッションに参加させる。
// POST /api/sessions/{id}/join
func (h *SessionHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	detail, err := h.service.JoinSession(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionEnvelope{Session: toSessionResponse(detail)})
}

// EndSession はホストがセッションを終了する。
// POST /api/sessions/{id}/end
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.EndSession(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, endSessionEnvelope{
		Session: toSessionResponse(result.Session),
		Msg:     result.Message,
	})
}
