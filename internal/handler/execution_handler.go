package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/codepair/internal/execution"
)

// CodeRunner はコード実行ハンドラーが必要とするインターフェース。
type CodeRunner interface {
	Execute(ctx context.Context, language, code string) (*execution.Result, error)
}

// ExecutionHandler はコード実行プロキシのHTTPハンドラー。
type ExecutionHandler struct {
	runner CodeRunner
}

// NewExecutionHandler はExecutionHandlerを生成する。
func NewExecutionHandler(runner CodeRunner) *ExecutionHandler {
	return &ExecutionHandler{runner: runner}
}

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type executeResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Execute はコードを実行して結果を返す。
// 実行APIの失敗はsuccess=falseの200で返し、入力不備のみ400とする。
// POST /api/code/execute
func (h *ExecutionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.runner.Execute(r.Context(), req.Language, req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Success: result.Success,
		Output:  result.Output,
		Error:   result.Error,
	})
}
