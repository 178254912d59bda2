// Package chat はリアルタイムチャット・ビデオ用のクライアントトークン発行を提供する。
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/codepair/internal/model"
)

// TokenIssuer はユーザー単位のクライアントトークンを署名するインターフェース。
type TokenIssuer interface {
	CreateUserToken(userID string, ttl time.Duration) (string, error)
}

// Token はクライアントへ返すトークンと表示用属性。
// UserIDはプロバイダ側のユーザーID（外部IdPのsubject ID）。
type Token struct {
	Token     string
	UserID    string
	UserName  string
	UserImage string
}

// Service はトークン発行のサービス層。
type Service struct {
	issuer TokenIssuer
	ttl    time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(issuer TokenIssuer, ttl time.Duration) *Service {
	return &Service{issuer: issuer, ttl: ttl}
}

// IssueToken は認証済みユーザーのIDでスコープしたトークンを発行する。
func (s *Service) IssueToken(ctx context.Context, user *model.User) (*Token, error) {
	token, err := s.issuer.CreateUserToken(user.ExternalID, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	return &Token{
		Token:     token,
		UserID:    user.ExternalID,
		UserName:  user.Name,
		UserImage: user.ImageURL,
	}, nil
}
