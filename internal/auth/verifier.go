// Package auth は外部IdPが発行したセッショントークンの検証を提供する。
//
// IdPはRS256で署名したJWTを発行し、クライアントはAuthorizationヘッダーの
// Bearerトークンまたは__sessionクッキーで送信する。
// 検証に成功した場合はsubクレーム（外部IdPのユーザーID）を返す。
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookieName はIdPがブラウザに設定するセッショントークンのクッキー名。
	SessionCookieName = "__session"

	// defaultLeeway は時刻系クレームの検証に許容する時計のずれ。
	defaultLeeway = 5 * time.Second
)

var (
	// ErrMissingToken はリクエストにトークンが含まれない場合のエラー。
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken はトークンの検証に失敗した場合のエラー。
	ErrInvalidToken = errors.New("invalid token")
)

// VerifierConfig はVerifierの設定。
type VerifierConfig struct {
	PublicKeyPEM string // IdPのRSA公開鍵（PEM）
	Issuer       string // 空の場合はissを検証しない
}

// Verifier はIdPのセッショントークンを検証する。
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	leeway    time.Duration
	now       func() time.Time // テスト用に差し替え可能
}

// NewVerifier はVerifierを生成する。公開鍵を解析できない場合はエラーを返す。
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	key, err := ParseRSAPublicKey(cfg.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		publicKey: key,
		issuer:    cfg.Issuer,
		leeway:    defaultLeeway,
		now:       time.Now,
	}, nil
}

// ParseRSAPublicKey はPEM形式のRSA公開鍵を解析する。
// "PUBLIC KEY"（PKIX）と"RSA PUBLIC KEY"（PKCS#1）の両方を受け付ける。
// 環境変数で渡されたエスケープ済みの改行（\n）も解釈する。
func ParseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(pemStr), `\n`, "\n")
	if normalized == "" {
		return nil, errors.New("public key is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(normalized))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}
	return key, nil
}

// Verify はトークンの署名・有効期限・発行者を検証し、subクレームを返す。
func (v *Verifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}

// TokenFromRequest はリクエストからセッショントークンを取り出す。
// Authorizationヘッダーを優先し、なければ__sessionクッキーを参照する。
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
