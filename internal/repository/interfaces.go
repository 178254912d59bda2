// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/codepair/internal/model"
)

// ErrDuplicateCallID はcall_idのユニーク制約違反を表す。
var ErrDuplicateCallID = errors.New("call id already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByExternalID は外部IdPのsubject IDでユーザーを取得する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// Upsert はexternal_idをキーにユーザーを作成または表示属性を更新する。
	// external_id自体は更新しない。保存後のユーザーを返す。
	Upsert(ctx context.Context, user *model.User) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。call_idが重複した場合はErrDuplicateCallIDを返す。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// FindDetailByID はホストと参加者を展開したセッションを取得する。見つからない場合はnilを返す。
	FindDetailByID(ctx context.Context, id string) (*model.SessionDetail, error)

	// ListActive はstatus=activeのセッションを作成日時の降順で最大limit件返す。
	ListActive(ctx context.Context, limit int) ([]model.SessionDetail, error)

	// ListCompletedByUser は指定ユーザーがホストまたは参加者である
	// status=completedのセッションを作成日時の降順で最大limit件返す。
	ListCompletedByUser(ctx context.Context, userID string, limit int) ([]model.SessionDetail, error)

	// AssignParticipant は参加者枠が空き、かつactiveで、かつuserIDがホストでない場合に限り
	// 参加者を設定する。単一の条件付きUPDATEで実行し、更新できなかった場合はfalseを返す。
	AssignParticipant(ctx context.Context, id, userID string) (bool, error)

	// MarkCompleted はstatus=activeの場合に限りcompletedへ遷移させる。
	// 更新できなかった場合はfalseを返す。
	MarkCompleted(ctx context.Context, id string) (bool, error)
}
