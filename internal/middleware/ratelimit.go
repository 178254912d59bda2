package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate        rate.Limit    // API全般のレート（req/sec）
	GeneralBurst       int           // API全般のバーストサイズ
	SessionCreateRate  rate.Limit    // セッション作成のレート（req/sec）
	SessionCreateBurst int           // セッション作成のバーストサイズ
	CleanupInterval    time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、セッション作成 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:        rate.Limit(120.0 / 60.0),
		GeneralBurst:       120,
		SessionCreateRate:  rate.Limit(10.0 / 60.0),
		SessionCreateBurst: 10,
		CleanupInterval:    5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// bucketSet は同じレートを持つユーザー別リミッターの集合。
type bucketSet struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

func newBucketSet(name string, r rate.Limit, burst int) *bucketSet {
	return &bucketSet{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*userLimiter),
	}
}

// allow はユーザーのリミッターを取得または作成し、1トークン消費できるかを返す。
func (b *bucketSet) allow(userID string, now time.Time) bool {
	b.mu.Lock()
	ul, ok := b.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(b.rate, b.burst)}
		b.limiters[userID] = ul
	}
	ul.lastAccess = now
	b.mu.Unlock()

	return ul.limiter.AllowN(now, 1)
}

func (b *bucketSet) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (b *bucketSet) evict(now time.Time, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, ul := range b.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(b.limiters, userID)
		}
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般とセッション作成の2種類のバケットを持つ。
type RateLimiter struct {
	config RateLimiterConfig

	general       *bucketSet
	sessionCreate *bucketSet

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:        config,
		general:       newBucketSet("general", config.GeneralRate, config.GeneralBurst),
		sessionCreate: newBucketSet("session_create", config.SessionCreateRate, config.SessionCreateBurst),
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// SessionCreateMiddleware はセッション作成専用のレート制限ミドルウェアを返す。
// セッション作成はビデオ通話とチャットチャンネルを外部に作るため、API全般とは独立に絞る。
func (rl *RateLimiter) SessionCreateMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.sessionCreate)
}

func (rl *RateLimiter) middleware(b *bucketSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, "Unauthorized - no token provided")
				return
			}

			if !b.allow(userID, rl.now()) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", b.name),
				)
				writeRateLimitResponse(w, b.rate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// SessionCreateLimiterCount は現在管理されているセッション作成リミッターのエントリ数を返す。
func (rl *RateLimiter) SessionCreateLimiterCount() int {
	return rl.sessionCreate.count()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := rl.now()
	rl.general.evict(now, ttl)
	rl.sessionCreate.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterには1トークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
}
