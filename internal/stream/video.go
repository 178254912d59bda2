package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// defaultCallType はセッション用ビデオ通話のタイプ。
const defaultCallType = "default"

// CallRequest はビデオ通話の作成パラメータ。
type CallRequest struct {
	CallID      string
	CreatedByID string
	Custom      map[string]any
}

type callData struct {
	CreatedByID string         `json:"created_by_id"`
	Custom      map[string]any `json:"custom,omitempty"`
}

type getOrCreateCallBody struct {
	Data callData `json:"data"`
}

type deleteCallBody struct {
	Hard bool `json:"hard"`
}

func callPath(callID string) string {
	return fmt.Sprintf("/call/%s/%s", defaultCallType, url.PathEscape(callID))
}

// GetOrCreateCall はビデオ通話を取得、存在しなければ作成する。
func (c *Client) GetOrCreateCall(ctx context.Context, req CallRequest) error {
	body := getOrCreateCallBody{
		Data: callData{CreatedByID: req.CreatedByID, Custom: req.Custom},
	}
	if err := c.do(ctx, http.MethodPost, c.videoBaseURL, callPath(req.CallID), body, nil); err != nil {
		return fmt.Errorf("failed to create call %s: %w", req.CallID, err)
	}
	return nil
}

// DeleteCall はビデオ通話をハードデリートする。
func (c *Client) DeleteCall(ctx context.Context, callID string) error {
	if err := c.do(ctx, http.MethodPost, c.videoBaseURL, callPath(callID)+"/delete", deleteCallBody{Hard: true}, nil); err != nil {
		return fmt.Errorf("failed to delete call %s: %w", callID, err)
	}
	return nil
}
