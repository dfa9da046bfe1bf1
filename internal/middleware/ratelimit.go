package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/habitloop/internal/metrics"
)

// リミッター種別。ストアのキー接頭辞とメトリクスのラベルに使用する。
const (
	LimiterGeneral     = "general"
	LimiterHabitCreate = "habit_create"
)

// Policy は1種類のレート制限の設定。
type Policy struct {
	Name  string     // リミッター種別
	Rate  rate.Limit // 補充レート（req/sec）
	Burst int        // バケット容量
}

// PerMinute は1分あたりのリクエスト数からPolicyを生成する。バーストは1分間分とする。
func PerMinute(name string, rpm int) Policy {
	if rpm < 1 {
		rpm = 1
	}
	return Policy{Name: name, Rate: rate.Limit(float64(rpm) / 60.0), Burst: rpm}
}

// retryAfter はトークンが1つ補充されるまでの秒数を返す。
func (p Policy) retryAfter() int {
	sec := int(math.Ceil(1.0 / float64(p.Rate)))
	if sec < 1 {
		sec = 1
	}
	return sec
}

// LimiterStore はトークンバケットの保存先を抽象化する。
// 単一プロセスではMemoryLimiterStore、複数レプリカではRedisLimiterStoreを使用する。
type LimiterStore interface {
	// Allow はkeyのバケットからトークンを1つ消費できればtrueを返す。
	Allow(ctx context.Context, key string, policy Policy) (bool, error)
}

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	General     Policy // API全般（認証済みユーザー単位）
	HabitCreate Policy // 習慣作成（API全般とは独立）
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、習慣作成 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		General:     PerMinute(LimiterGeneral, 120),
		HabitCreate: PerMinute(LimiterHabitCreate, 10),
	}
}

// RateLimiter はユーザーごとのレート制限ミドルウェアを提供する。
type RateLimiter struct {
	config   RateLimiterConfig
	store    LimiterStore
	recorder metrics.HTTPRecorder
}

// NewRateLimiter は新しいRateLimiterを生成する。recorderがnilの場合は記録しない。
func NewRateLimiter(config RateLimiterConfig, store LimiterStore, recorder metrics.HTTPRecorder) *RateLimiter {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &RateLimiter{config: config, store: store, recorder: recorder}
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.config.General)
}

// HabitCreationMiddleware は習慣作成専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) HabitCreationMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.config.HabitCreate)
}

func (rl *RateLimiter) middleware(policy Policy) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteUnauthorized(w)
				return
			}

			allowed, err := rl.store.Allow(r.Context(), policy.Name+":"+userID, policy)
			if err != nil {
				// ストア障害時はリクエストを通す
				slog.Warn("rate limiter store unavailable",
					slog.String("limit_type", policy.Name),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				rl.recorder.RecordRateLimited(policy.Name)
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", policy.Name),
				)
				writeRateLimitResponse(w, policy)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitResponse はトークンが補充されるまでの推定秒数付きで429を返す。
func writeRateLimitResponse(w http.ResponseWriter, policy Policy) {
	WriteTooManyRequests(w, policy.retryAfter())
}

// userLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiterStore はプロセス内のx/time/rateでバケットを保持するLimiterStore。
type MemoryLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiterStore は新しいMemoryLimiterStoreを生成する。
// バックグラウンドでcleanupIntervalごとに期限切れエントリを削除する。
func NewMemoryLimiterStore(cleanupInterval time.Duration) *MemoryLimiterStore {
	s := &MemoryLimiterStore{
		limiters: make(map[string]*userLimiter),
		ttl:      cleanupInterval * 2,
		stopCh:   make(chan struct{}),
	}
	go s.cleanupLoop(cleanupInterval)
	return s
}

// Allow はkeyのリミッターを取得または作成し、トークンを1つ消費する。
func (s *MemoryLimiterStore) Allow(_ context.Context, key string, policy Policy) (bool, error) {
	s.mu.Lock()
	ul, exists := s.limiters[key]
	if !exists {
		ul = &userLimiter{limiter: rate.NewLimiter(policy.Rate, policy.Burst)}
		s.limiters[key] = ul
	}
	ul.lastAccess = time.Now()
	s.mu.Unlock()

	return ul.limiter.Allow(), nil
}

// Len は現在管理されているエントリ数を返す。テスト用。
func (s *MemoryLimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryLimiterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *MemoryLimiterStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がttlを超えたエントリを削除する。
func (s *MemoryLimiterStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, ul := range s.limiters {
		if now.Sub(ul.lastAccess) > s.ttl {
			delete(s.limiters, key)
		}
	}
}

var _ LimiterStore = (*MemoryLimiterStore)(nil)
