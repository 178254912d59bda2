// Package execution はリモートのコード実行API（Piston）へのプロキシを提供する。
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/hitoshi/codepair/internal/model"
)

const (
	// DefaultBaseURL はPiston APIのベースURL。
	DefaultBaseURL = "https://emkc.org/api/v2/piston"

	// maxCodeBytes は1回の実行で受け付けるソースコードの最大バイト数。
	maxCodeBytes = 64 * 1024

	noOutput = "No output"
)

// Language は実行可能な言語とランタイムのバージョン。
type Language struct {
	Name      string
	Version   string
	Extension string
}

// languages は対応言語の一覧。キーはクライアントが指定する言語名。
var languages = map[string]Language{
	"javascript": {Name: "javascript", Version: "18.15.0", Extension: "js"},
	"python":     {Name: "python", Version: "3.10.0", Extension: "py"},
	"java":       {Name: "java", Version: "15.0.2", Extension: "java"},
}

// SupportedLanguages は対応言語名を昇順で返す。
func SupportedLanguages() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Result はコード実行の結果。
// stderrが空でない場合はSuccess=falseで、Errorにstderrを格納する。
type Result struct {
	Success bool
	Output  string
	Error   string
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
}

type pistonResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Output string `json:"output"`
		Code   *int   `json:"code"`
	} `json:"run"`
}

// Runner はPiston APIのクライアント。
type Runner struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewRunner はRunnerの新しいインスタンスを生成する。baseURLが空の場合はDefaultBaseURLを使用する。
func NewRunner(baseURL string, httpClient *http.Client, logger *slog.Logger) *Runner {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Execute は指定言語でコードを実行する。
// 未対応の言語や空のコードはValidationErrorを返す。
// 実行APIの呼び出し失敗は実行結果（Success=false）として返す。
func (r *Runner) Execute(ctx context.Context, language, code string) (*Result, error) {
	lang, ok := languages[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, model.NewValidationError(fmt.Sprintf("Unsupported language: %s", language))
	}
	if strings.TrimSpace(code) == "" {
		return nil, model.NewValidationError("Code is required")
	}
	if len(code) > maxCodeBytes {
		return nil, model.NewValidationError("Code is too large")
	}

	payload, err := json.Marshal(pistonRequest{
		Language: lang.Name,
		Version:  lang.Version,
		Files:    []pistonFile{{Name: "main." + lang.Extension, Content: code}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("コード実行APIの呼び出しに失敗しました",
			slog.String("language", lang.Name),
			slog.String("error", err.Error()),
		)
		return &Result{Success: false, Error: "Failed to execute code: " + err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		r.logger.Warn("コード実行APIがエラーステータスを返しました",
			slog.String("language", lang.Name),
			slog.Int("http_status", resp.StatusCode),
		)
		return &Result{Success: false, Error: fmt.Sprintf("HTTP error! status:%d", resp.StatusCode)}, nil
	}

	var body pistonResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &Result{Success: false, Error: "Failed to execute code: invalid response"}, nil
	}

	if body.Run.Stderr != "" {
		return &Result{Success: false, Output: body.Run.Output, Error: body.Run.Stderr}, nil
	}

	output := body.Run.Output
	if output == "" {
		output = noOutput
	}
	return &Result{Success: true, Output: output}, nil
}
