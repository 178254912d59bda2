package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/codepair/internal/middleware"
	"github.com/hitoshi/codepair/internal/model"
	"github.com/hitoshi/codepair/internal/user"
)

// 同期対象のIdPイベント種別
const (
	eventUserCreated = "user.created"
	eventUserUpdated = "user.updated"
)

// UserSyncer はIdPからの通知でユーザーを同期するインターフェース。
type UserSyncer interface {
	Sync(ctx context.Context, in user.SyncInput) (*model.User, error)
}

// WebhookVerifier は配信の署名ヘッダーを生のボディに対して検証するインターフェース。
// *svix.Webhook が実装する。
type WebhookVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

// WebhookHandler はIdPのユーザーイベントを受け取るHTTPハンドラー。
type WebhookHandler struct {
	syncer   UserSyncer
	verifier WebhookVerifier
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(syncer UserSyncer, verifier WebhookVerifier) *WebhookHandler {
	return &WebhookHandler{syncer: syncer, verifier: verifier}
}

// userEvent はIdPのユーザーイベントのペイロード。
type userEvent struct {
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		ImageURL       string `json:"image_url"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

func (e *userEvent) syncInput() user.SyncInput {
	in := user.SyncInput{
		ExternalID: e.Data.ID,
		Name:       strings.TrimSpace(e.Data.FirstName + " " + e.Data.LastName),
		ImageURL:   e.Data.ImageURL,
	}
	if len(e.Data.EmailAddresses) > 0 {
		in.Email = e.Data.EmailAddresses[0].EmailAddress
	}
	return in
}

// HandleUserEvent はuser.created/user.updatedイベントでユーザーを同期する。
// それ以外のイベントは受理して無視する。
// POST /webhooks/users
func (h *WebhookHandler) HandleUserEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readRawBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// 署名はsvix-id・svix-timestamp・svix-signatureヘッダーで送られる
	if err := h.verifier.Verify(body, r.Header); err != nil {
		slog.Warn("webhook signature verification failed",
			slog.String("svix_id", r.Header.Get("svix-id")),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, "Unauthorized - invalid webhook signature")
		return
	}

	var event userEvent
	if err := json.Unmarshal(body, &event); err != nil {
		handleServiceError(w, r, model.NewValidationError("Invalid JSON body"))
		return
	}

	switch event.Type {
	case eventUserCreated, eventUserUpdated:
		u, err := h.syncer.Sync(r.Context(), event.syncInput())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		slog.Info("user synced from identity provider",
			slog.String("event", event.Type),
			slog.String("user_id", u.ID),
		)
	default:
		slog.Debug("ignored identity provider event", slog.String("event", event.Type))
	}

	w.WriteHeader(http.StatusNoContent)
}
