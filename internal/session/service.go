// Package session はセッションのライフサイクル管理のドメインロジックを提供する。
//
// セッションは作成直後からactiveで、参加者枠が一度だけ埋まり、
// ホストの終了操作でcompletedへ一方向に遷移する。
// 各操作はSession Storeとリアルタイムルームプロバイダ（ビデオ通話・チャット）の
// 状態を揃えるように順に呼び出す。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/codepair/internal/model"
	"github.com/hitoshi/codepair/internal/repository"
	"github.com/hitoshi/codepair/internal/security"
	"github.com/hitoshi/codepair/internal/stream"
)

const (
	// MaxListSize は一覧系APIが返す最大件数。
	MaxListSize = 20

	// EndedMessage はセッション終了時にレスポンスへ含めるメッセージ。
	EndedMessage = "Session ended successfully"

	// maxCreateAttempts はcall_id衝突時の再生成回数の上限。
	maxCreateAttempts = 3

	callIDSuffixLen  = 7
	callIDAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	maxProblemLength = 255
)

// プロバイダ呼び出しの操作名（メトリクスのラベル）。
const (
	OpCreateCall    = "create_call"
	OpCreateChannel = "create_channel"
	OpAddMembers    = "add_members"
	OpDeleteCall    = "delete_call"
	OpDeleteChannel = "delete_channel"
)

// RoomProvider はセッションに紐づくビデオ通話とチャットチャンネルを管理する外部プロバイダ。
type RoomProvider interface {
	GetOrCreateCall(ctx context.Context, req stream.CallRequest) error
	DeleteCall(ctx context.Context, callID string) error
	CreateChannel(ctx context.Context, req stream.ChannelRequest) error
	AddMembers(ctx context.Context, channelID string, userIDs []string) error
	DeleteChannel(ctx context.Context, channelID string) error
}

// MetricsRecorder はライフサイクルのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordSessionCreated(difficulty string)
	RecordSessionJoined()
	RecordJoinConflict()
	RecordSessionEnded()
	RecordProviderCall(operation string, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordSessionCreated(string) {}
func (noopMetrics) RecordSessionJoined() {}
func (noopMetrics) RecordJoinConflict() {}
func (noopMetrics) RecordSessionEnded() {}
func (noopMetrics) RecordProviderCall(string, time.Duration, error) {}

// CreateInput はセッション作成の入力。
type CreateInput struct {
	Problem    string
	Difficulty string
}

// EndResult はセッション終了の結果。
type EndResult struct {
	Session *model.SessionDetail
	Message string
}

// Service はセッションライフサイクルのサービス層。
type Service struct {
	sessions  repository.SessionRepository
	rooms     RoomProvider
	sanitizer security.TextSanitizer
	metrics   MetricsRecorder
	logger    *slog.Logger

	// テスト用に差し替え可能
	now       func() time.Time
	newID     func() string
	newCallID func(now time.Time) string
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsがnilの場合はメトリクスを記録しない。
func NewService(
	sessions repository.SessionRepository,
	rooms RoomProvider,
	sanitizer security.TextSanitizer,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		rooms:     rooms,
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		newCallID: GenerateCallID,
	}
}

// GenerateCallID は "session_<unixミリ秒>_<base36 7文字>" 形式のcall_idを生成する。
func GenerateCallID(now time.Time) string {
	suffix := make([]byte, callIDSuffixLen)
	for i := range suffix {
		suffix[i] = callIDAlphabet[rand.Intn(len(callIDAlphabet))]
	}
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}

// CreateSession はセッションを作成し、ビデオ通話とチャットチャンネルを用意する。
// 入力不備の場合は永続化もプロバイダ呼び出しも行わない。
// 途中のプロバイダ呼び出しが失敗しても作成済みの行は巻き戻さない。
func (s *Service) CreateSession(ctx context.Context, host *model.User, in CreateInput) (*model.SessionDetail, error) {
	problem := s.sanitizer.SanitizeText(in.Problem)
	if problem == "" || strings.TrimSpace(in.Difficulty) == "" {
		return nil, model.NewValidationError("Problem and difficulty are required")
	}
	if len([]rune(problem)) > maxProblemLength {
		return nil, model.NewValidationError("Problem is too long")
	}
	difficulty, ok := model.ParseDifficulty(in.Difficulty)
	if !ok {
		return nil, model.NewValidationError("Difficulty must be one of easy, medium, hard")
	}

	session, err := s.insertWithUniqueCallID(ctx, host.ID, problem, difficulty)
	if err != nil {
		return nil, err
	}

	err = s.callProvider(OpCreateCall, func() error {
		return s.rooms.GetOrCreateCall(ctx, stream.CallRequest{
			CallID:      session.CallID,
			CreatedByID: host.ExternalID,
			Custom: map[string]any{
				"problem":    session.Problem,
				"difficulty": string(session.Difficulty),
				"sessionId":  session.ID,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("ビデオ通話の作成に失敗しました: %w", err)
	}

	err = s.callProvider(OpCreateChannel, func() error {
		return s.rooms.CreateChannel(ctx, stream.ChannelRequest{
			ChannelID:   session.CallID,
			Name:        session.Problem + " session",
			CreatedByID: host.ExternalID,
			Members:     []string{host.ExternalID},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("チャットチャンネルの作成に失敗しました: %w", err)
	}

	s.metrics.RecordSessionCreated(string(session.Difficulty))
	s.logger.Info("session created",
		slog.String("session_id", session.ID),
		slog.String("call_id", session.CallID),
		slog.String("host_id", host.ID),
	)

	return &model.SessionDetail{Session: *session, Host: host.Summary()}, nil
}

// insertWithUniqueCallID はcall_idが衝突した場合に再生成して行を作成する。
func (s *Service) insertWithUniqueCallID(ctx context.Context, hostID, problem string, difficulty model.Difficulty) (*model.Session, error) {
	for attempt := 1; ; attempt++ {
		now := s.now()
		session := &model.Session{
			ID:         s.newID(),
			Problem:    problem,
			Difficulty: difficulty,
			HostID:     hostID,
			CallID:     s.newCallID(now),
			Status:     model.SessionStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err := s.sessions.Create(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, repository.ErrDuplicateCallID) || attempt >= maxCreateAttempts {
			return nil, fmt.Errorf("セッションの作成に失敗しました: %w", err)
		}
		s.logger.Warn("call_idが衝突したため再生成します",
			slog.String("call_id", session.CallID),
			slog.Int("attempt", attempt),
		)
	}
}

// ListActiveSessions はactiveなセッションを新しい順に最大MaxListSize件返す。
func (s *Service) ListActiveSessions(ctx context.Context) ([]model.SessionDetail, error) {
	sessions, err := s.sessions.ListActive(ctx, MaxListSize)
	if err != nil {
		return nil, fmt.Errorf("アクティブなセッション一覧の取得に失敗しました: %w", err)
	}
	return sessions, nil
}

// ListMyRecentSessions は指定ユーザーがホストまたは参加者だった完了済みセッションを
// 新しい順に最大MaxListSize件返す。
func (s *Service) ListMyRecentSessions(ctx context.Context, user *model.User) ([]model.SessionDetail, error) {
	sessions, err := s.sessions.ListCompletedByUser(ctx, user.ID, MaxListSize)
	if err != nil {
		return nil, fmt.Errorf("最近のセッション一覧の取得に失敗しました: %w", err)
	}
	return sessions, nil
}

// GetSessionByID はホストと参加者を展開したセッションを返す。
func (s *Service) GetSessionByID(ctx context.Context, id string) (*model.SessionDetail, error) {
	detail, err := s.sessions.FindDetailByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if detail == nil {
		return nil, model.NewSessionNotFoundError()
	}
	return detail, nil
}

// JoinSession は指定ユーザーを参加者として設定し、チャットチャンネルに追加する。
// 参加者の設定は条件付き更新で行い、同時に参加した場合は1人だけが成功する。
func (s *Service) JoinSession(ctx context.Context, id string, user *model.User) (*model.SessionDetail, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session != nil && session.Status == model.SessionStatusActive && session.IsParticipant(user.ID) {
		return nil, s.repairParticipantMembership(ctx, session, user)
	}
	if err := checkJoinable(session, user.ID); err != nil {
		return nil, err
	}

	assigned, err := s.sessions.AssignParticipant(ctx, id, user.ID)
	if err != nil {
		return nil, fmt.Errorf("参加者の設定に失敗しました: %w", err)
	}
	if !assigned {
		s.metrics.RecordJoinConflict()
		return nil, s.classifyLostJoin(ctx, id, user.ID)
	}

	if err := s.addToChannel(ctx, session, user); err != nil {
		return nil, err
	}

	s.metrics.RecordSessionJoined()
	s.logger.Info("session joined",
		slog.String("session_id", id),
		slog.String("participant_id", user.ID),
	)

	return s.GetSessionByID(ctx, id)
}

func (s *Service) addToChannel(ctx context.Context, session *model.Session, user *model.User) error {
	err := s.callProvider(OpAddMembers, func() error {
		return s.rooms.AddMembers(ctx, session.CallID, []string{user.ExternalID})
	})
	if err != nil {
		return fmt.Errorf("チャットチャンネルへの追加に失敗しました: %w", err)
	}
	return nil
}

// repairParticipantMembership は参加済みユーザーをチャットチャンネルに再追加する。
// 参加者の設定後にチャンネル追加が失敗した場合でも再試行で復旧できる。
// 参加枠は埋まっているため、追加できた場合もConflictを返す。
func (s *Service) repairParticipantMembership(ctx context.Context, session *model.Session, user *model.User) error {
	if err := s.addToChannel(ctx, session, user); err != nil {
		return err
	}
	s.logger.Info("participant channel membership ensured",
		slog.String("session_id", session.ID),
		slog.String("participant_id", user.ID),
	)
	return model.NewConflictError("Session is full")
}

// classifyLostJoin は条件付き更新に失敗した理由を最新の状態から判定する。
func (s *Service) classifyLostJoin(ctx context.Context, id, userID string) error {
	latest, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("セッションの再取得に失敗しました: %w", err)
	}
	if err := checkJoinable(latest, userID); err != nil {
		return err
	}
	return model.NewConflictError("Session is full")
}

// checkJoinable は参加可否を判定する。
// 参加者が既にいる場合はホスト本人であってもConflictを返す。
func checkJoinable(session *model.Session, userID string) error {
	switch {
	case session == nil:
		return model.NewSessionNotFoundError()
	case session.Status != model.SessionStatusActive:
		return model.NewInvalidStateError("Cannot join a completed session")
	case session.HasParticipant():
		return model.NewConflictError("Session is full")
	case session.IsHost(userID):
		return model.NewInvalidStateError("Host cannot join their own session")
	}
	return nil
}

// EndSession はホストによるセッション終了を行う。
// ビデオ通話（ハードデリート）とチャットチャンネルを削除した後にcompletedを永続化する。
// 既にプロバイダ側で削除済み（404）の場合は削除済みとして扱う。
func (s *Service) EndSession(ctx context.Context, id string, user *model.User) (*EndResult, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError()
	}
	if !session.IsHost(user.ID) {
		return nil, model.NewForbiddenError("Only host can end the session")
	}
	if session.Status == model.SessionStatusCompleted {
		return nil, model.NewInvalidStateError("Session is already completed")
	}

	err = s.callProvider(OpDeleteCall, func() error {
		return ignoreNotFound(s.rooms.DeleteCall(ctx, session.CallID))
	})
	if err != nil {
		return nil, fmt.Errorf("ビデオ通話の削除に失敗しました: %w", err)
	}

	err = s.callProvider(OpDeleteChannel, func() error {
		return ignoreNotFound(s.rooms.DeleteChannel(ctx, session.CallID))
	})
	if err != nil {
		return nil, fmt.Errorf("チャットチャンネルの削除に失敗しました: %w", err)
	}

	completed, err := s.sessions.MarkCompleted(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("セッションの終了に失敗しました: %w", err)
	}
	if !completed {
		return nil, model.NewInvalidStateError("Session is already completed")
	}

	s.metrics.RecordSessionEnded()
	s.logger.Info("session ended",
		slog.String("session_id", id),
		slog.String("host_id", user.ID),
	)

	detail, err := s.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EndResult{Session: detail, Message: EndedMessage}, nil
}

// callProvider はプロバイダ呼び出しのレイテンシと成否を記録する。
func (s *Service) callProvider(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.RecordProviderCall(op, time.Since(start), err)
	if err != nil {
		s.logger.Error("provider call failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func ignoreNotFound(err error) error {
	if stream.IsNotFound(err) {
		return nil
	}
	return err
}
