package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// channelType はセッション用チャットチャンネルのタイプ。
const channelType = "messaging"

// ChannelRequest はチャットチャンネルの作成パラメータ。
type ChannelRequest struct {
	ChannelID   string
	Name        string
	CreatedByID string
	Members     []string
}

// UserRequest はチャットユーザーの登録パラメータ。
type UserRequest struct {
	ID    string
	Name  string
	Image string
}

type channelData struct {
	Name        string   `json:"name,omitempty"`
	CreatedByID string   `json:"created_by_id"`
	Members     []string `json:"members,omitempty"`
}

type queryChannelBody struct {
	Data  channelData `json:"data"`
	State bool        `json:"state"`
}

type updateChannelBody struct {
	AddMembers []string `json:"add_members"`
}

type chatUser struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

type upsertUsersBody struct {
	Users map[string]chatUser `json:"users"`
}

func channelPath(channelID string) string {
	return fmt.Sprintf("/channels/%s/%s", channelType, url.PathEscape(channelID))
}

// CreateChannel はチャットチャンネルを作成する。既に存在する場合はそのまま返る。
func (c *Client) CreateChannel(ctx context.Context, req ChannelRequest) error {
	body := queryChannelBody{
		Data: channelData{
			Name:        req.Name,
			CreatedByID: req.CreatedByID,
			Members:     req.Members,
		},
	}
	if err := c.do(ctx, http.MethodPost, c.chatBaseURL, channelPath(req.ChannelID)+"/query", body, nil); err != nil {
		return fmt.Errorf("failed to create channel %s: %w", req.ChannelID, err)
	}
	return nil
}

// AddMembers はチャンネルにメンバーを追加する。
func (c *Client) AddMembers(ctx context.Context, channelID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	body := updateChannelBody{AddMembers: userIDs}
	if err := c.do(ctx, http.MethodPost, c.chatBaseURL, channelPath(channelID), body, nil); err != nil {
		return fmt.Errorf("failed to add members to channel %s: %w", channelID, err)
	}
	return nil
}

// DeleteChannel はチャンネルを削除する。
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	if err := c.do(ctx, http.MethodDelete, c.chatBaseURL, channelPath(channelID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	return nil
}

// UpsertUser はチャットユーザーを作成または更新する。
func (c *Client) UpsertUser(ctx context.Context, req UserRequest) error {
	body := upsertUsersBody{
		Users: map[string]chatUser{
			req.ID: {ID: req.ID, Name: req.Name, Image: req.Image},
		},
	}
	if err := c.do(ctx, http.MethodPost, c.chatBaseURL, "/users", body, nil); err != nil {
		return fmt.Errorf("failed to upsert chat user %s: %w", req.ID, err)
	}
	return nil
}
