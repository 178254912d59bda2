// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/codepair/internal/auth"
	"github.com/hitoshi/codepair/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// TokenVerifier はIdPのセッショントークンを検証し、subject IDを返す。
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserResolver はsubject IDから内部ユーザーを解決する。
// 見つからない場合はNOT_FOUNDのAPIErrorを返す。
type UserResolver interface {
	ResolveByExternalID(ctx context.Context, externalID string) (*model.User, error)
}

// NewAuthMiddleware はセッショントークンを検証し、認証済みユーザーを
// リクエストコンテキストに注入するミドルウェアを返す。
//   - トークンなし・検証失敗: 401
//   - ユーザーが未登録: 404
//   - ディレクトリの障害: 500
func NewAuthMiddleware(verifier TokenVerifier, resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			externalID, err := verifier.Verify(auth.TokenFromRequest(r))
			if err != nil {
				if !errors.Is(err, auth.ErrMissingToken) {
					slog.Warn("token verification failed",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError().Message)
				return
			}

			user, err := resolver.ResolveByExternalID(r.Context(), externalID)
			if err != nil {
				if model.IsAPIErrorCode(err, model.ErrCodeNotFound) {
					WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError().Message)
					return
				}
				slog.Error("failed to resolve user",
					slog.String("external_id", externalID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			setLogUserID(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストから内部ユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	if user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
