// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// SessionStatus はセッションのライフサイクル状態を表す。
// 遷移は active → completed の一方向のみ。
type SessionStatus string

const (
	// SessionStatusActive は作成直後から終了までの状態。
	SessionStatusActive SessionStatus = "active"
	// SessionStatusCompleted はホストが終了した後の終端状態。
	SessionStatusCompleted SessionStatus = "completed"
)

// Difficulty は問題の難易度を表す。
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty は文字列を難易度に変換する。大文字小文字は区別しない。
// 未知の値の場合はfalseを返す。
func ParseDifficulty(s string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyMedium:
		return DifficultyMedium, true
	case DifficultyHard:
		return DifficultyHard, true
	default:
		return "", false
	}
}

// Session は2人で問題を解く共有ルームを表す。
// ホストは作成時に決まり、参加者は最大1人で一度設定されたら変更されない。
type Session struct {
	ID            string
	Problem       string
	Difficulty    Difficulty
	HostID        string
	ParticipantID *string
	CallID        string // ビデオ通話とチャットチャンネルの共通ID
	Status        SessionStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsHost は指定ユーザーがホストかどうかを返す。
func (s *Session) IsHost(userID string) bool {
	return s.HostID == userID
}

// HasParticipant は参加者枠が埋まっているかどうかを返す。
func (s *Session) HasParticipant() bool {
	return s.ParticipantID != nil && *s.ParticipantID != ""
}

// IsParticipant は指定ユーザーが参加者かどうかを返す。
func (s *Session) IsParticipant(userID string) bool {
	return s.HasParticipant() && *s.ParticipantID == userID
}

// SessionDetail はホストと参加者を表示用属性に展開したセッション。
type SessionDetail struct {
	Session
	Host        *UserSummary
	Participant *UserSummary
}
