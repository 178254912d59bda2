// Package stream はStreamのチャット・ビデオREST APIクライアントを提供する。
// セッションごとのビデオ通話とチャットチャンネルの作成・削除、
// メンバー追加、ユーザー登録、クライアント用トークン発行を扱う。
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultChatBaseURL はStream Chat APIのベースURL。
	DefaultChatBaseURL = "https://chat.stream-io-api.com"
	// DefaultVideoBaseURL はStream Video APIのベースURL。
	DefaultVideoBaseURL = "https://video.stream-io-api.com/video"

	// maxErrorBodyBytes はエラー時にメッセージへ含めるレスポンスボディの最大バイト数。
	maxErrorBodyBytes = 512
)

// Config はStreamクライアントの設定。
type Config struct {
	APIKey       string
	APISecret    string
	ChatBaseURL  string // 空の場合はDefaultChatBaseURL
	VideoBaseURL string // 空の場合はDefaultVideoBaseURL
}

// ResponseError はStream APIが2xx以外を返した場合のエラー。
type ResponseError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *ResponseError) Error() string {
	return fmt.Sprintf("stream API returned status %d: %s", e.StatusCode, e.Body)
}

// Client はStream REST APIのクライアント。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	apiKey       string
	apiSecret    []byte
	chatBaseURL  string
	videoBaseURL string
	now          func() time.Time // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	chatBase := cfg.ChatBaseURL
	if chatBase == "" {
		chatBase = DefaultChatBaseURL
	}
	videoBase := cfg.VideoBaseURL
	if videoBase == "" {
		videoBase = DefaultVideoBaseURL
	}

	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		apiKey:       cfg.APIKey,
		apiSecret:    []byte(cfg.APISecret),
		chatBaseURL:  chatBase,
		videoBaseURL: videoBase,
		now:          time.Now,
	}
}

// serverToken はサーバー権限のJWTを生成する。
func (c *Client) serverToken() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true})
	signed, err := token.SignedString(c.apiSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign server token: %w", err)
	}
	return signed, nil
}

// do はStream APIへJSONリクエストを送信し、outが非nilならレスポンスをデコードする。
func (c *Client) do(ctx context.Context, method, baseURL, path string, body, out any) error {
	reqURL, err := url.Parse(baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to parse stream URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("api_key", c.apiKey)
	reqURL.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode stream request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create stream request: %w", err)
	}

	token, err := c.serverToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Stream-Auth-Type", "jwt")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "codepair/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Stream APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Error("Stream APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return &ResponseError{StatusCode: resp.StatusCode, Body: string(excerpt)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode stream response: %w", err)
	}
	return nil
}

// IsNotFound はerrがStream APIの404応答に由来するかどうかを返す。
func IsNotFound(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
