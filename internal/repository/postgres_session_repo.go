package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hitoshi/codepair/internal/model"
)

// uniqueViolation はPostgreSQLのユニーク制約違反エラーコード。
const uniqueViolation = "23505"

// sessionDetailSelect はホストと参加者をJOINしてセッションを取得するSELECT句。
const sessionDetailSelect = `
	SELECT s.id, s.problem, s.difficulty, s.host_id, s.participant_id, s.call_id, s.status,
	       s.created_at, s.updated_at,
	       h.external_id AS host_external_id, h.name AS host_name,
	       h.email AS host_email, h.image_url AS host_image_url,
	       p.external_id AS participant_external_id, p.name AS participant_name,
	       p.email AS participant_email, p.image_url AS participant_image_url
	FROM sessions s
	JOIN users h ON h.id = s.host_id
	LEFT JOIN users p ON p.id = s.participant_id`

// sessionRow はsessionsテーブル（+ JOINしたユーザー列）のスキャン先。
type sessionRow struct {
	ID            string         `db:"id"`
	Problem       string         `db:"problem"`
	Difficulty    string         `db:"difficulty"`
	HostID        string         `db:"host_id"`
	ParticipantID sql.NullString `db:"participant_id"`
	CallID        string         `db:"call_id"`
	Status        string         `db:"status"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`

	HostExternalID sql.NullString `db:"host_external_id"`
	HostName       sql.NullString `db:"host_name"`
	HostEmail      sql.NullString `db:"host_email"`
	HostImageURL   sql.NullString `db:"host_image_url"`

	ParticipantExternalID sql.NullString `db:"participant_external_id"`
	ParticipantName       sql.NullString `db:"participant_name"`
	ParticipantEmail      sql.NullString `db:"participant_email"`
	ParticipantImageURL   sql.NullString `db:"participant_image_url"`
}

// toSession は行データをドメインのSessionに変換する。
func (row *sessionRow) toSession() model.Session {
	s := model.Session{
		ID:         row.ID,
		Problem:    row.Problem,
		Difficulty: model.Difficulty(row.Difficulty),
		HostID:     row.HostID,
		CallID:     row.CallID,
		Status:     model.SessionStatus(row.Status),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.ParticipantID.Valid {
		pid := row.ParticipantID.String
		s.ParticipantID = &pid
	}
	return s
}

// toDetail は行データをホスト・参加者展開済みのSessionDetailに変換する。
func (row *sessionRow) toDetail() model.SessionDetail {
	d := model.SessionDetail{Session: row.toSession()}
	d.Host = &model.UserSummary{
		ID:         row.HostID,
		ExternalID: row.HostExternalID.String,
		Name:       row.HostName.String,
		Email:      row.HostEmail.String,
		ImageURL:   row.HostImageURL.String,
	}
	if row.ParticipantID.Valid {
		d.Participant = &model.UserSummary{
			ID:         row.ParticipantID.String,
			ExternalID: row.ParticipantExternalID.String,
			Name:       row.ParticipantName.String,
			Email:      row.ParticipantEmail.String,
			ImageURL:   row.ParticipantImageURL.String,
		}
	}
	return d
}

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sqlx.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sqlx.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, problem, difficulty, host_id, participant_id, call_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.Problem, string(session.Difficulty), session.HostID, session.ParticipantID,
		session.CallID, string(session.Status), session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation && pqErr.Constraint == "sessions_call_id_unique" {
			return ErrDuplicateCallID
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if !isUUID(id) {
		return nil, nil
	}

	var row sessionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, problem, difficulty, host_id, participant_id, call_id, status, created_at, updated_at
		 FROM sessions WHERE id = $1`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session := row.toSession()
	return &session, nil
}

// FindDetailByID はホストと参加者を展開したセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindDetailByID(ctx context.Context, id string) (*model.SessionDetail, error) {
	if !isUUID(id) {
		return nil, nil
	}

	var row sessionRow
	err := r.db.GetContext(ctx, &row, sessionDetailSelect+` WHERE s.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session detail: %w", err)
	}

	detail := row.toDetail()
	return &detail, nil
}

// ListActive はstatus=activeのセッションを作成日時の降順で最大limit件返す。
func (r *PostgresSessionRepo) ListActive(ctx context.Context, limit int) ([]model.SessionDetail, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows,
		sessionDetailSelect+` WHERE s.status = $1 ORDER BY s.created_at DESC LIMIT $2`,
		string(model.SessionStatusActive), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	return toDetails(rows), nil
}

// ListCompletedByUser は指定ユーザーが関与した完了済みセッションを作成日時の降順で最大limit件返す。
func (r *PostgresSessionRepo) ListCompletedByUser(ctx context.Context, userID string, limit int) ([]model.SessionDetail, error) {
	if !isUUID(userID) {
		return []model.SessionDetail{}, nil
	}

	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows,
		sessionDetailSelect+`
		 WHERE s.status = $1 AND (s.host_id = $2 OR s.participant_id = $2)
		 ORDER BY s.created_at DESC LIMIT $3`,
		string(model.SessionStatusCompleted), userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sessions: %w", err)
	}

	return toDetails(rows), nil
}

// AssignParticipant は条件付きUPDATEで参加者を設定する。
// 同時に2件のJOINが来ても、participant_id IS NULL の条件により1件のみが成功する。
func (r *PostgresSessionRepo) AssignParticipant(ctx context.Context, id, userID string) (bool, error) {
	if !isUUID(id) || !isUUID(userID) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET participant_id = $2, updated_at = now()
		 WHERE id = $1
		   AND status = $3
		   AND participant_id IS NULL
		   AND host_id <> $2`,
		id, userID, string(model.SessionStatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("failed to assign participant: %w", err)
	}

	return affectedOne(result)
}

// MarkCompleted はstatus=activeの場合に限りcompletedへ遷移させる。
func (r *PostgresSessionRepo) MarkCompleted(ctx context.Context, id string) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, string(model.SessionStatusCompleted), string(model.SessionStatusActive),
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}

	return affectedOne(result)
}

func toDetails(rows []sessionRow) []model.SessionDetail {
	details := make([]model.SessionDetail, len(rows))
	for i := range rows {
		details[i] = rows[i].toDetail()
	}
	return details
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
