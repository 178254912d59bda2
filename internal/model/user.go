// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// ExternalIDは外部IdPのsubject IDで、作成後は変更しない。
type User struct {
	ID         string    `db:"id"`
	ExternalID string    `db:"external_id"`
	Name       string    `db:"name"`
	Email      string    `db:"email"`
	ImageURL   string    `db:"image_url"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// UserSummary はセッションに展開して返すユーザーの表示用属性。
type UserSummary struct {
	ID         string
	ExternalID string
	Name       string
	Email      string
	ImageURL   string
}

// Summary はUserから表示用属性を取り出す。
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:         u.ID,
		ExternalID: u.ExternalID,
		Name:       u.Name,
		Email:      u.Email,
		ImageURL:   u.ImageURL,
	}
}
