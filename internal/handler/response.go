package handler

import (
	"time"

	"github.com/hitoshi/codepair/internal/model"
)

// userResponse はセッションに展開するユーザーの表示用属性。
type userResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage"`
	ClerkID      string `json:"clerkId"`
}

// sessionResponse はセッションのAPIレスポンス。参加者が未確定の場合participantはnull。
type sessionResponse struct {
	ID          string        `json:"id"`
	Problem     string        `json:"problem"`
	Difficulty  string        `json:"difficulty"`
	Status      string        `json:"status"`
	CallID      string        `json:"callId"`
	Host        *userResponse `json:"host"`
	Participant *userResponse `json:"participant"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type sessionEnvelope struct {
	Session *sessionResponse `json:"session"`
}

type sessionsEnvelope struct {
	Sessions []sessionResponse `json:"sessions"`
}

type endSessionEnvelope struct {
	Session *sessionResponse `json:"session"`
	Msg     string           `json:"msg"`
}

func toUserResponse(u *model.UserSummary) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		ProfileImage: u.ImageURL,
		ClerkID:      u.ExternalID,
	}
}

func toSessionResponse(d *model.SessionDetail) *sessionResponse {
	if d == nil {
		return nil
	}
	return &sessionResponse{
		ID:          d.ID,
		Problem:     d.Problem,
		Difficulty:  string(d.Difficulty),
		Status:      string(d.Status),
		CallID:      d.CallID,
		Host:        toUserResponse(d.Host),
		Participant: toUserResponse(d.Participant),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// toSessionResponses は一覧を変換する。空の場合もnullではなく[]を返す。
func toSessionResponses(details []model.SessionDetail) []sessionResponse {
	out := make([]sessionResponse, 0, len(details))
	for i := range details {
		out = append(out, *toSessionResponse(&details[i]))
	}
	return out
}
