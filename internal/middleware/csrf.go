package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	AllowedOrigin string // フロントエンドのオリジン（例: http://localhost:5173）
}

// NewCSRFMiddleware はクッキー認証の状態変更リクエストに対して
// Origin（なければReferer）が許可オリジンと一致することを検証するミドルウェアを返す。
// Authorizationヘッダーで認証するリクエストはブラウザが自動送信しないため検証をスキップする。
// 安全なメソッド（GET, HEAD, OPTIONS）も検証しない。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	allowed := strings.TrimRight(config.AllowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) || r.Header.Get("Authorization") != "" {
				next.ServeHTTP(w, r)
				return
			}

			origin := requestOrigin(r)
			if origin == "" || origin != allowed {
				slog.Warn("CSRF validation failed: origin mismatch",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, "CSRF validation failed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestOrigin はOriginヘッダー、なければRefererからオリジンを取り出す。
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return strings.TrimRight(origin, "/")
	}
	referer := r.Header.Get("Referer")
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
