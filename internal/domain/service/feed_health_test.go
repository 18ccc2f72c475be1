package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfitem/feedwatch/internal/domain/model"
)

const testFeedURL = "https://news.example.com/feed.xml"

// newTestTracker 创建注入了固定时钟的健康跟踪器
func newTestTracker(t *testing.T, config model.FeedHealthConfig, now time.Time) (*feedHealthTracker, *time.Time) {
	t.Helper()

	tracker, ok := NewFeedHealthTracker(config).(*feedHealthTracker)
	require.True(t, ok)

	current := now
	tracker.now = func() time.Time { return current }
	return tracker, &current
}

func TestRecordFailure_BelowThresholdStaysAlive(t *testing.T) {
	tracker, _ := newTestTracker(t, model.FeedHealthConfig{
		MaxConsecutiveFailures: 3,
		BaseBackoffMinutes:     10,
	}, time.Now())

	for i := 0; i < 2; i++ {
		becameDead := tracker.RecordFailure(testFeedURL)
		assert.False(t, becameDead)

		skip, _ := tracker.ShouldSkipFeed(testFeedURL)
		assert.False(t, skip, "未达到失败上限时不应跳过")
	}

	rec, ok := tracker.FeedStatus(testFeedURL)
	require.True(t, ok)
	assert.Equal(t, 2, rec.ConsecutiveFailures)
	assert.False(t, rec.IsDead)
}

func TestRecordFailure_ReachingThresholdMarksDead(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, model.FeedHealthConfig{
		MaxConsecutiveFailures: 3,
		BaseBackoffMinutes:     10,
	}, base)

	tracker.RecordFailure(testFeedURL)
	tracker.RecordFailure(testFeedURL)
	becameDead := tracker.RecordFailure(testFeedURL)
	assert.True(t, becameDead, "达到失败上限的那次失败应返回刚失效标记")

	rec, ok := tracker.FeedStatus(testFeedURL)
	require.True(t, ok)
	assert.True(t, rec.IsDead)
	// 刚达到上限时退避为基数本身
	assert.Equal(t, base.Add(10*time.Minute), rec.NextRetry)

	// 已失效的Feed再次失败不再返回刚失效标记
	becameDead = tracker.RecordFailure(testFeedURL)
	assert.False(t, becameDead)
}

func TestRecordFailure_BackoffDoublesAndCaps(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, model.FeedHealthConfig{
		MaxConsecutiveFailures: 2,
		BaseBackoffMinutes:     10,
	}, base)

	baseBackoff := 10 * time.Minute
	// 超出上限的失败次数 -> 期望退避倍数：0->1x, 1->2x, 2->4x ... 6及以上封顶64x
	expected := []time.Duration{
		baseBackoff,
		2 * baseBackoff,
		4 * baseBackoff,
		8 * baseBackoff,
		16 * baseBackoff,
		32 * baseBackoff,
		64 * baseBackoff,
		64 * baseBackoff, // 封顶后不再翻倍
		64 * baseBackoff,
	}

	tracker.RecordFailure(testFeedURL) // 第1次，未达上限
	for i, want := range expected {
		tracker.RecordFailure(testFeedURL)

		rec, ok := tracker.FeedStatus(testFeedURL)
		require.True(t, ok)
		assert.Equal(t, base.Add(want), rec.NextRetry,
			"第%d次超限失败的退避时间不符", i)
	}
}

func TestRecordSuccess_ResetsFailureCount(t *testing.T) {
	tracker, _ := newTestTracker(t, model.FeedHealthConfig{
		MaxConsecutiveFailures: 2,
		BaseBackoffMinutes:     10,
	}, time.Now())

	tracker.RecordFailure(testFeedURL)
	tracker.RecordFailure(testFeedURL)
	skip, _ := tracker.ShouldSkipFeed(testFeedURL)
	assert.True(t, skip)

	// 一次成功立即回到健康状态
	tracker.RecordSuccess(testFeedURL)

	rec, ok := tracker.FeedStatus(testFeedURL)
	require.True(t, ok)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.False(t, rec.IsDead)
	assert.True(t, rec.NextRetry.IsZero())

	skip, _ = tracker.ShouldSkipFeed(testFeedURL)
	assert.False(t, skip)

	// 恢复后再次失败，从头开始计数
	becameDead := tracker.RecordFailure(testFeedURL)
	assert.False(t, becameDead)
}

func TestShouldSkipFeed_AllowsProbeAfterBackoff(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	tracker, current := newTestTracker(t, model.FeedHealthConfig{
		MaxConsecutiveFailures: 1,
		BaseBackoffMinutes:     10,
	}, base)

	tracker.RecordFailure(testFeedURL)

	// 退避期内跳过，并给出原因
	skip, reason := tracker.ShouldSkipFeed(testFeedURL)
	assert.True(t, skip)
	assert.NotEmpty(t, reason)

	// 时间推进到重试时间之后，放行一次探测
	*current = base.Add(11 * time.Minute)
	skip, _ = tracker.ShouldSkipFeed(testFeedURL)
	assert.False(t, skip)
}

func TestShouldSkipFeed_UnknownFeedNotSkipped(t *testing.T) {
	tracker, _ := newTestTracker(t, model.FeedHealthConfig{}, time.Now())

	skip, reason := tracker.ShouldSkipFeed("https://unknown.example.com/feed.xml")
	assert.False(t, skip)
	assert.Empty(t, reason)
}

func TestCountsAndDeadFeeds(t *testing.T) {
	tracker, _ := newTestTracker(t, model.FeedHealthConfig{
		MaxConsecutiveFailures: 1,
		BaseBackoffMinutes:     10,
	}, time.Now())

	tracker.RecordSuccess("https://alive.example.com/feed.xml")
	tracker.RecordFailure("https://dead.example.com/feed.xml")

	healthy, dead := tracker.Counts()
	assert.Equal(t, 1, healthy)
	assert.Equal(t, 1, dead)

	deadFeeds := tracker.DeadFeeds()
	require.Len(t, deadFeeds, 1)
	assert.Equal(t, "https://dead.example.com/feed.xml", deadFeeds[0].FeedURL)
	assert.Equal(t, 1, deadFeeds[0].ConsecutiveFailures)
	assert.False(t, deadFeeds[0].NextRetry.IsZero())
}
