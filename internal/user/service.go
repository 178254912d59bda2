// Package user はユーザーディレクトリのドメインロジックを提供する。
// 外部IdPのsubject IDから内部ユーザーを解決し、IdPからの通知でユーザーを同期する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/codepair/internal/model"
	"github.com/hitoshi/codepair/internal/repository"
	"github.com/hitoshi/codepair/internal/security"
	"github.com/hitoshi/codepair/internal/stream"
)

// Cache はexternal_idをキーにしたユーザーキャッシュのインターフェース。
type Cache interface {
	// Get はキャッシュ済みユーザーを返す。存在しない場合はfalseを返す。
	Get(ctx context.Context, externalID string) (*model.User, bool, error)
	Set(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, externalID string) error
}

// ChatUserUpserter はチャットプロバイダ側のユーザー登録インターフェース。
type ChatUserUpserter interface {
	UpsertUser(ctx context.Context, req stream.UserRequest) error
}

// SyncInput はIdPから通知されたユーザー属性。
type SyncInput struct {
	ExternalID string
	Name       string
	Email      string
	ImageURL   string
}

// Service はユーザーディレクトリのサービス層。
type Service struct {
	userRepo  repository.UserRepository
	cache     Cache // nilの場合はキャッシュしない
	chat      ChatUserUpserter
	sanitizer security.TextSanitizer
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// cacheはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	cache Cache,
	chat ChatUserUpserter,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:  userRepo,
		cache:     cache,
		chat:      chat,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// ResolveByExternalID は外部IdPのsubject IDに対応するユーザーを返す。
// 見つからない場合はUserNotFoundエラーを返す。
// キャッシュの障害はログに残してDBにフォールバックする。
func (s *Service) ResolveByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, externalID)
		if err != nil {
			s.logger.Warn("ユーザーキャッシュの読み取りに失敗しました",
				slog.String("external_id", externalID),
				slog.String("error", err.Error()),
			)
		} else if ok {
			return cached, nil
		}
	}

	user, err := s.userRepo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, user); err != nil {
			s.logger.Warn("ユーザーキャッシュの書き込みに失敗しました",
				slog.String("external_id", externalID),
				slog.String("error", err.Error()),
			)
		}
	}

	return user, nil
}

// Sync はIdPから通知されたユーザーをDBとチャットプロバイダに登録する。
// 既存ユーザーの場合は表示属性のみ更新する。
// キャッシュは更新前に破棄し、更新後に最新の行で上書きする。
// 更新中に並行する読み取りが古い行を書き戻しても最新の行が残る。
func (s *Service) Sync(ctx context.Context, in SyncInput) (*model.User, error) {
	externalID := strings.TrimSpace(in.ExternalID)
	if externalID == "" {
		return nil, model.NewValidationError("User id is required")
	}

	name := s.sanitizer.SanitizeText(in.Name)
	if name == "" {
		// 名前未設定のユーザーはメールアドレスのローカル部を表示名にする
		name, _, _ = strings.Cut(strings.TrimSpace(in.Email), "@")
	}

	s.invalidateCache(ctx, externalID)

	user, err := s.userRepo.Upsert(ctx, &model.User{
		ExternalID: externalID,
		Name:       name,
		Email:      strings.TrimSpace(in.Email),
		ImageURL:   strings.TrimSpace(in.ImageURL),
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザーの保存に失敗しました: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, user); err != nil {
			// 上書きできない場合は古いエントリを残さない
			s.logger.Warn("ユーザーキャッシュの更新に失敗しました",
				slog.String("external_id", externalID),
				slog.String("error", err.Error()),
			)
			s.invalidateCache(ctx, externalID)
		}
	}

	if err := s.chat.UpsertUser(ctx, stream.UserRequest{
		ID:    user.ExternalID,
		Name:  user.Name,
		Image: user.ImageURL,
	}); err != nil {
		return nil, fmt.Errorf("チャットユーザーの登録に失敗しました: %w", err)
	}

	s.logger.Info("ユーザーを同期しました",
		slog.String("user_id", user.ID),
		slog.String("external_id", user.ExternalID),
	)

	return user, nil
}

func (s *Service) invalidateCache(ctx context.Context, externalID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, externalID); err != nil {
		s.logger.Warn("ユーザーキャッシュの破棄に失敗しました",
			slog.String("external_id", externalID),
			slog.String("error", err.Error()),
		)
	}
}
