package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitIfNeeded_SameDomainEnforcesMinDelay(t *testing.T) {
	minDelay := 200 * time.Millisecond
	limiter := NewDomainRateLimiter(minDelay)
	ctx := context.Background()

	// 第一次请求不等待
	start := time.Now()
	waited, err := limiter.WaitIfNeeded(ctx, "https://news.example.com/feed.xml")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), waited)

	// 同域名的第二次请求必须等到最小间隔
	waited, err = limiter.WaitIfNeeded(ctx, "https://news.example.com/other.xml")
	require.NoError(t, err)
	assert.Greater(t, waited, time.Duration(0))

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, minDelay,
		"同域名两次请求的实际间隔不应小于最小间隔")
}

func TestWaitIfNeeded_DifferentDomainsDoNotBlock(t *testing.T) {
	limiter := NewDomainRateLimiter(500 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	_, err := limiter.WaitIfNeeded(ctx, "https://a.example.com/feed.xml")
	require.NoError(t, err)
	_, err = limiter.WaitIfNeeded(ctx, "https://b.example.com/feed.xml")
	require.NoError(t, err)
	_, err = limiter.WaitIfNeeded(ctx, "https://c.example.com/feed.xml")
	require.NoError(t, err)

	// 三个不同域名的首次请求互不阻塞
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 3, limiter.DomainCount())
}

func TestWaitIfNeeded_ZeroDelayDisablesLimiting(t *testing.T) {
	limiter := NewDomainRateLimiter(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		waited, err := limiter.WaitIfNeeded(ctx, "https://news.example.com/feed.xml")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), waited)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitIfNeeded_ConcurrentCallsSerialize(t *testing.T) {
	minDelay := 150 * time.Millisecond
	limiter := NewDomainRateLimiter(minDelay)
	ctx := context.Background()

	// 同域名的并发调用：时间槽在预约时占用，三次调用总耗时至少2个间隔
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := limiter.WaitIfNeeded(ctx, "https://news.example.com/feed.xml")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 2*minDelay)
}

func TestWaitIfNeeded_ContextCancelledDuringWait(t *testing.T) {
	limiter := NewDomainRateLimiter(5 * time.Second)
	ctx := context.Background()

	_, err := limiter.WaitIfNeeded(ctx, "https://news.example.com/feed.xml")
	require.NoError(t, err)

	// 第二次调用需要等待5秒，提前取消应立即返回错误
	cancelCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = limiter.WaitIfNeeded(cancelCtx, "https://news.example.com/feed.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		name     string
		rawURL   string
		expected string
	}{
		{"普通URL", "https://News.Example.com/feed.xml", "news.example.com"},
		{"带端口的URL", "http://example.com:8080/rss", "example.com"},
		{"无法解析时退回原始字符串", "not a url", "not a url"},
		{"空字符串", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractDomain(tt.rawURL))
		})
	}
}
