package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfitem/feedwatch/internal/domain/model"
	"github.com/wolfitem/feedwatch/internal/middleware"
)

const testRSSBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>测试Feed</title>
    <link>https://news.example.com</link>
    <item>
      <title>第一篇文章</title>
      <link>https://news.example.com/articles/1</link>
      <description>&lt;p&gt;第一篇的&lt;b&gt;摘要&lt;/b&gt;内容&lt;/p&gt;</description>
      <pubDate>Mon, 24 Aug 2026 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title>第二篇文章</title>
      <link>https://news.example.com/articles/2</link>
      <description>第二篇的摘要</description>
      <pubDate>Sun, 23 Aug 2026 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title>没有链接的条目</title>
      <description>该条目应被单独跳过</description>
    </item>
  </channel>
</rss>`

// newTestFetcher 构造一套测试用的抓取器组件
// httptest服务器全部落在127.0.0.1域名下，限速间隔必须为0
func newTestFetcher(t *testing.T, scrapeConfig model.ScrapeConfig) (FeedFetcher, FeedHealthTracker, ConditionalCache) {
	t.Helper()

	limiter := middleware.NewDomainRateLimiter(0)
	health := NewFeedHealthTracker(model.FeedHealthConfig{
		MaxConsecutiveFailures: 2,
		BaseBackoffMinutes:     10,
	})
	cache := NewConditionalCache(model.CacheConfig{
		Enabled:       true,
		CacheFilePath: filepath.Join(t.TempDir(), "feed_cache.json"),
	})
	return NewFeedFetcher(limiter, health, cache, scrapeConfig), health, cache
}

func TestFetch_SuccessParsesArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, testRSSBody)
	}))
	defer server.Close()

	fetcher, health, cache := newTestFetcher(t, model.ScrapeConfig{})

	result := fetcher.Fetch(context.Background(), "测试源", server.URL)
	require.Equal(t, OutcomeFetched, result.Outcome)
	require.Len(t, result.Articles, 2, "缺少链接的条目应被跳过")

	first := result.Articles[0]
	assert.Equal(t, "https://news.example.com/articles/1", first.URL)
	assert.Equal(t, "第一篇文章", first.Title)
	assert.Equal(t, "第一篇的摘要内容", first.Content, "HTML标签应被去除")
	assert.Equal(t, "测试源", first.SourceName)
	assert.Equal(t, 2026, first.PublishedAt.Year())

	// 成功抓取重置健康计数并保存验证器
	rec, ok := health.FeedStatus(server.URL)
	require.True(t, ok)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Equal(t, `"v1"`, cache.GetCacheHeaders(server.URL)["If-None-Match"])
}

func TestFetch_NotModifiedIsCacheHitAndHealthSuccess(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, testRSSBody)
	}))
	defer server.Close()

	fetcher, health, cache := newTestFetcher(t, model.ScrapeConfig{})
	ctx := context.Background()

	// 第一次抓取拿到内容和ETag
	result := fetcher.Fetch(ctx, "测试源", server.URL)
	require.Equal(t, OutcomeFetched, result.Outcome)

	// 第二次抓取携带If-None-Match，服务器返回304
	result = fetcher.Fetch(ctx, "测试源", server.URL)
	assert.Equal(t, OutcomeNotModified, result.Outcome)
	assert.Empty(t, result.Articles)
	assert.Equal(t, 2, requests)

	// 304计为缓存命中，对健康跟踪而言是成功
	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	rec, ok := health.FeedStatus(server.URL)
	require.True(t, ok)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.False(t, rec.IsDead)
}

func TestFetch_HTTPErrorStatusCountsAsFailure(t *testing.T) {
	for _, status := range []int{404, 403, 429, 500} {
		t.Run(fmt.Sprintf("http_%d", status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			fetcher, health, _ := newTestFetcher(t, model.ScrapeConfig{})

			// 404/403/429与5xx同等对待，一律计入失败
			result := fetcher.Fetch(context.Background(), "测试源", server.URL)
			assert.Equal(t, OutcomeFailed, result.Outcome)
			assert.Equal(t, fmt.Sprintf("http_%d", status), result.FailureKind)

			rec, ok := health.FeedStatus(server.URL)
			require.True(t, ok)
			assert.Equal(t, 1, rec.ConsecutiveFailures)
		})
	}
}

func TestFetch_ParseErrorCountsAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "这不是一个Feed文档")
	}))
	defer server.Close()

	fetcher, health, _ := newTestFetcher(t, model.ScrapeConfig{})

	result := fetcher.Fetch(context.Background(), "测试源", server.URL)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "parse", result.FailureKind)

	rec, ok := health.FeedStatus(server.URL)
	require.True(t, ok)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
}

func TestFetch_ConnectionErrorCountsAsFailure(t *testing.T) {
	// 先启动再关闭，拿到一个必然拒绝连接的地址
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	fetcher, _, _ := newTestFetcher(t, model.ScrapeConfig{})

	result := fetcher.Fetch(context.Background(), "测试源", deadURL)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, []string{"connection", "network"}, result.FailureKind)
}

func TestFetch_RepeatedFailuresLeadToSkip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher, _, _ := newTestFetcher(t, model.ScrapeConfig{})
	ctx := context.Background()

	// 失败上限为2：第二次失败标记为失效
	result := fetcher.Fetch(ctx, "测试源", server.URL)
	assert.False(t, result.BecameDead)
	result = fetcher.Fetch(ctx, "测试源", server.URL)
	assert.True(t, result.BecameDead)

	// 失效后处于退避期，不再发起请求
	result = fetcher.Fetch(ctx, "测试源", server.URL)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.NotEmpty(t, result.SkipReason)
}

func TestFetch_EntryLimitCapsArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>多条目</title>`)
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, `<item><title>文章%d</title><link>https://news.example.com/articles/%d</link></item>`, i, i)
		}
		fmt.Fprint(w, `</channel></rss>`)
	}))
	defer server.Close()

	fetcher, _, _ := newTestFetcher(t, model.ScrapeConfig{EntryLimit: 3})

	result := fetcher.Fetch(context.Background(), "测试源", server.URL)
	require.Equal(t, OutcomeFetched, result.Outcome)
	assert.Len(t, result.Articles, 3)
}

func TestFetch_CancelledDuringRateWaitNotChargedToHealth(t *testing.T) {
	// 非零限速间隔：同域名的后续任务会阻塞在限速等待中
	limiter := middleware.NewDomainRateLimiter(5 * time.Second)
	health := NewFeedHealthTracker(model.FeedHealthConfig{
		MaxConsecutiveFailures: 2,
		BaseBackoffMinutes:     10,
	})
	cache := NewConditionalCache(model.CacheConfig{
		Enabled:       true,
		CacheFilePath: filepath.Join(t.TempDir(), "feed_cache.json"),
	})
	fetcher := NewFeedFetcher(limiter, health, cache, model.ScrapeConfig{})

	// 占用域名时间槽，后续同域名请求需等待5秒
	_, err := limiter.WaitIfNeeded(context.Background(), "https://news.example.com/a.xml")
	require.NoError(t, err)

	// 周期截止取消了等待中的任务：引擎从未接触过该Feed
	neverContacted := "https://news.example.com/b.xml"
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		result := fetcher.Fetch(ctx, "测试源", neverContacted)
		cancel()

		assert.Equal(t, OutcomeAborted, result.Outcome)
		assert.False(t, result.BecameDead)
	}

	// 被放弃的任务不得计入健康跟踪，更不能把Feed推向失效
	_, exists := health.FeedStatus(neverContacted)
	assert.False(t, exists, "从未被访问的Feed不应产生健康记录")
	skip, _ := health.ShouldSkipFeed(neverContacted)
	assert.False(t, skip)

	// 缓存未命中计数同样不受影响
	assert.Equal(t, int64(0), cache.Stats().Misses)
}

func TestFetch_ParentCancelDuringRequestNotChargedToHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	fetcher, health, _ := newTestFetcher(t, model.ScrapeConfig{})

	// 父context在请求进行中取消：周期级放弃而非Feed故障
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result := fetcher.Fetch(ctx, "测试源", server.URL)
	assert.Equal(t, OutcomeAborted, result.Outcome)

	_, exists := health.FeedStatus(server.URL)
	assert.False(t, exists)
}

func TestFetch_RequestTimeoutStillCountsAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	// 单次请求超时1秒，父context有效：超时是Feed自身的问题
	fetcher, health, _ := newTestFetcher(t, model.ScrapeConfig{TimeoutSeconds: 1})

	result := fetcher.Fetch(context.Background(), "测试源", server.URL)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "timeout", result.FailureKind)

	rec, ok := health.FeedStatus(server.URL)
	require.True(t, ok)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
}

func TestFetch_SendsConfiguredUserAgent(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		fmt.Fprint(w, testRSSBody)
	}))
	defer server.Close()

	customUA := "Feedwatch测试代理/1.0"
	fetcher, _, _ := newTestFetcher(t, model.ScrapeConfig{UserAgents: []string{customUA}})

	result := fetcher.Fetch(context.Background(), "测试源", server.URL)
	require.Equal(t, OutcomeFetched, result.Outcome)
	assert.Equal(t, customUA, gotUserAgent)
}
