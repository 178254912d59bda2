package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCSRFMiddleware(t *testing.T) {
	const origin = "http://localhost:5173"

	tests := []struct {
		name       string
		method     string
		headers    map[string]string
		wantStatus int
	}{
		{name: "GETは検証しない", method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "OPTIONSは検証しない", method: http.MethodOptions, wantStatus: http.StatusOK},
		{name: "Bearer認証は検証しない", method: http.MethodPost, headers: map[string]string{"Authorization": "Bearer t"}, wantStatus: http.StatusOK},
		{name: "一致するOrigin", method: http.MethodPost, headers: map[string]string{"Origin": origin}, wantStatus: http.StatusOK},
		{name: "末尾スラッシュ付きOrigin", method: http.MethodPost, headers: map[string]string{"Origin": origin + "/"}, wantStatus: http.StatusOK},
		{name: "Refererのオリジン", method: http.MethodPost, headers: map[string]string{"Referer": origin + "/session/abc"}, wantStatus: http.StatusOK},
		{name: "異なるOrigin", method: http.MethodPost, headers: map[string]string{"Origin": "https://evil.example.com"}, wantStatus: http.StatusForbidden},
		{name: "OriginもRefererもない", method: http.MethodPost, wantStatus: http.StatusForbidden},
		{name: "壊れたReferer", method: http.MethodPost, headers: map[string]string{"Referer": "not a url"}, wantStatus: http.StatusForbidden},
	}

	handler := NewCSRFMiddleware(CSRFConfig{AllowedOrigin: origin})(okHandler())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/sessions/abc/join", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				if msg := decodeMsg(t, w); msg != "CSRF validation failed" {
					t.Errorf("msg = %q", msg)
				}
			}
		})
	}
}
