package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/wolfitem/feedwatch/internal/domain/model"
	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
)

// FeedHealthRecord 单个Feed的健康状况
type FeedHealthRecord struct {
	ConsecutiveFailures int       // 连续失败次数
	LastSuccess         time.Time // 最近一次成功时间（零值表示从未成功）
	LastAttempt         time.Time // 最近一次尝试时间
	IsDead              bool      // 是否已标记为失效
	NextRetry           time.Time // 失效后允许重试的时间
}

// DeadFeedInfo 失效Feed报告条目
type DeadFeedInfo struct {
	FeedURL             string
	ConsecutiveFailures int
	NextRetry           time.Time
}

// FeedHealthTracker 定义Feed健康跟踪接口
// 状态机：健康(失败=0) -> 劣化(0<失败<上限) -> 失效(失败>=上限，设置重试时间)
// 任何状态下一次成功即回到健康；失效状态下到达重试时间后放行一次探测
type FeedHealthTracker interface {
	// RecordSuccess 记录一次成功，重置失败计数
	RecordSuccess(feedURL string)

	// RecordFailure 记录一次失败，返回该Feed是否因本次失败刚被标记为失效
	RecordFailure(feedURL string) bool

	// ShouldSkipFeed 判断是否应跳过该Feed，跳过时附带原因说明
	ShouldSkipFeed(feedURL string) (bool, string)

	// FeedStatus 查询单个Feed的健康记录
	FeedStatus(feedURL string) (FeedHealthRecord, bool)

	// DeadFeeds 返回当前所有失效Feed的报告
	DeadFeeds() []DeadFeedInfo

	// Counts 返回健康与失效Feed的数量
	Counts() (healthy int, dead int)
}

// feedHealthTracker 实现FeedHealthTracker接口
type feedHealthTracker struct {
	mu      sync.Mutex
	records map[string]*FeedHealthRecord

	maxFailures int
	baseBackoff time.Duration

	// 当前时间函数，便于测试注入
	now func() time.Time
}

// NewFeedHealthTracker 创建新的Feed健康跟踪器
func NewFeedHealthTracker(config model.FeedHealthConfig) FeedHealthTracker {
	maxFailures := config.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	baseBackoff := time.Duration(config.BaseBackoffMinutes) * time.Minute
	if baseBackoff <= 0 {
		baseBackoff = 15 * time.Minute
	}

	return &feedHealthTracker{
		records:     make(map[string]*FeedHealthRecord),
		maxFailures: maxFailures,
		baseBackoff: baseBackoff,
		now:         time.Now,
	}
}

// RecordSuccess 记录一次成功，重置失败计数
func (t *feedHealthTracker) RecordSuccess(feedURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(feedURL)
	wasDead := rec.IsDead

	rec.ConsecutiveFailures = 0
	rec.LastSuccess = t.now()
	rec.LastAttempt = rec.LastSuccess
	rec.IsDead = false
	rec.NextRetry = time.Time{}

	if wasDead {
		logger.Info("失效Feed已恢复", "feed_url", feedURL)
	}
}

// RecordFailure 记录一次失败
// 失败次数达到上限后标记为失效，退避时间按 base * 2^min(超出次数, 6) 计算，
// 指数上限6将退避封顶在基数的64倍
func (t *feedHealthTracker) RecordFailure(feedURL string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record(feedURL)
	wasDead := rec.IsDead

	rec.ConsecutiveFailures++
	rec.LastAttempt = t.now()

	if rec.ConsecutiveFailures < t.maxFailures {
		return false
	}

	beyond := rec.ConsecutiveFailures - t.maxFailures
	if beyond > 6 {
		beyond = 6
	}
	backoff := t.baseBackoff * time.Duration(1<<beyond)

	rec.IsDead = true
	rec.NextRetry = rec.LastAttempt.Add(backoff)

	becameDead := !wasDead
	if becameDead {
		logger.Warn("Feed已标记为失效",
			"feed_url", feedURL,
			"consecutive_failures", rec.ConsecutiveFailures,
			"backoff", backoff)
	}
	return becameDead
}

// ShouldSkipFeed 判断是否应跳过该Feed
// 未知或未失效的Feed不跳过；失效Feed到达重试时间后放行一次探测
func (t *feedHealthTracker) ShouldSkipFeed(feedURL string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[feedURL]
	if !ok || !rec.IsDead {
		return false, ""
	}

	// NextRetry未设置时保守地一直跳过
	if rec.NextRetry.IsZero() {
		return true, "Feed已失效且未设置重试时间"
	}

	remaining := rec.NextRetry.Sub(t.now())
	if remaining <= 0 {
		return false, ""
	}

	return true, fmt.Sprintf("Feed处于退避期，%s后允许重试", remaining.Round(time.Second))
}

// FeedStatus 查询单个Feed的健康记录
func (t *feedHealthTracker) FeedStatus(feedURL string) (FeedHealthRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[feedURL]
	if !ok {
		return FeedHealthRecord{}, false
	}
	return *rec, true
}

// DeadFeeds 返回当前所有失效Feed的报告
func (t *feedHealthTracker) DeadFeeds() []DeadFeedInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dead []DeadFeedInfo
	for feedURL, rec := range t.records {
		if rec.IsDead {
			dead = append(dead, DeadFeedInfo{
				FeedURL:             feedURL,
				ConsecutiveFailures: rec.ConsecutiveFailures,
				NextRetry:           rec.NextRetry,
			})
		}
	}
	return dead
}

// Counts 返回健康与失效Feed的数量
func (t *feedHealthTracker) Counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	healthy, dead := 0, 0
	for _, rec := range t.records {
		if rec.IsDead {
			dead++
		} else {
			healthy++
		}
	}
	return healthy, dead
}

// record 获取或惰性创建健康记录，调用方必须持锁
func (t *feedHealthTracker) record(feedURL string) *FeedHealthRecord {
	rec, ok := t.records[feedURL]
	if !ok {
		rec = &FeedHealthRecord{}
		t.records[feedURL] = rec
	}
	return rec
}
