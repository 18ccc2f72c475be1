package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/wolfitem/feedwatch/internal/domain/model"
	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
	"github.com/wolfitem/feedwatch/internal/middleware"
)

// FetchOutcome 表示一次Feed抓取的结果类别
type FetchOutcome int

const (
	// OutcomeFetched 抓取成功并解析出文章（HTTP 200）
	OutcomeFetched FetchOutcome = iota
	// OutcomeNotModified 内容未变更（HTTP 304），零篇文章
	OutcomeNotModified
	// OutcomeSkipped 被健康跟踪器跳过，未发起请求
	OutcomeSkipped
	// OutcomeFailed 抓取失败（网络错误、非2xx状态码或Feed解析失败）
	OutcomeFailed
	// OutcomeAborted 任务因批次截止或外部取消被放弃，不计入Feed健康
	OutcomeAborted
)

// String 返回结果类别的可读名称
func (o FetchOutcome) String() string {
	switch o {
	case OutcomeFetched:
		return "fetched"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// FetchResult 单次Feed抓取的完整结果
// 以显式的结果标签代替异常控制流，由健康跟踪器和编排器消费
type FetchResult struct {
	Outcome     FetchOutcome          // 结果类别
	Articles    []model.ArticleRecord // 抓取到的文章（仅Fetched时非空）
	FailureKind string                // 失败类别：timeout/connection/parse/http_404等
	SkipReason  string                // 跳过原因（仅Skipped时有值）
	BecameDead  bool                  // 本次失败是否导致Feed被标记为失效
	Waited      time.Duration         // 限速等待时长
}

// FeedFetcher 定义单个Feed的抓取接口
type FeedFetcher interface {
	// Fetch 抓取一个Feed地址并解析为文章记录
	Fetch(ctx context.Context, sourceName, feedURL string) FetchResult
}

// feedFetcher 实现FeedFetcher接口
type feedFetcher struct {
	client     *http.Client
	limiter    *middleware.DomainRateLimiter
	health     FeedHealthTracker
	cache      ConditionalCache
	userAgents []string
	entryLimit int
	timeout    time.Duration
}

// 未配置User-Agent列表时的兜底值
var defaultUserAgents = []string{
	"Mozilla/5.0 (compatible; Feedwatch/1.0; +https://github.com/wolfitem/feedwatch)",
}

// NewFeedFetcher 创建新的Feed抓取器
// 限速器、健康跟踪器和缓存均由调用方构造后注入，便于在测试中隔离
func NewFeedFetcher(
	limiter *middleware.DomainRateLimiter,
	health FeedHealthTracker,
	cache ConditionalCache,
	config model.ScrapeConfig,
) FeedFetcher {
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	entryLimit := config.EntryLimit
	if entryLimit <= 0 {
		entryLimit = 50
	}
	userAgents := config.UserAgents
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}

	return &feedFetcher{
		client:     &http.Client{Timeout: timeout},
		limiter:    limiter,
		health:     health,
		cache:      cache,
		userAgents: userAgents,
		entryLimit: entryLimit,
		timeout:    timeout,
	}
}

// Fetch 抓取一个Feed地址并解析为文章记录
// 流程：健康检查 -> 域名限速 -> 条件GET -> 状态码判定 -> 解析条目
func (f *feedFetcher) Fetch(ctx context.Context, sourceName, feedURL string) FetchResult {
	// 1. 失效Feed在退避期内直接跳过，不发请求也不限速
	if skip, reason := f.health.ShouldSkipFeed(feedURL); skip {
		logger.Info("跳过失效Feed", "feed_url", feedURL, "reason", reason)
		return FetchResult{Outcome: OutcomeSkipped, SkipReason: reason}
	}

	// 2. 同域名请求强制最小间隔
	waited, err := f.limiter.WaitIfNeeded(ctx, feedURL)
	if err != nil {
		// 批次截止或外部取消：引擎从未接触到Feed，不是Feed自身的问题，
		// 不记入健康跟踪也不计缓存未命中
		logger.Debug("抓取任务被取消", "feed_url", feedURL, "error", err)
		return FetchResult{Outcome: OutcomeAborted, Waited: waited}
	}
	if waited > 0 {
		logger.Debug("限速等待完成", "feed_url", feedURL, "waited", waited)
	}

	// 3. 构造带条件请求头的GET
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, feedURL, nil)
	if err != nil {
		return f.failure(feedURL, "bad_url", err, waited)
	}
	for key, value := range f.cache.GetCacheHeaders(feedURL) {
		req.Header.Set(key, value)
	}
	req.Header.Set("User-Agent", f.userAgents[rand.Intn(len(f.userAgents))])

	// 4. 发起请求并按状态码判定结果
	resp, err := f.client.Do(req)
	if err != nil {
		// 父context被取消时是周期级放弃而非Feed故障；
		// 单次请求自身的超时（父context仍然有效）才记为失败
		if ctx.Err() != nil {
			logger.Debug("抓取任务被取消", "feed_url", feedURL, "error", err)
			return FetchResult{Outcome: OutcomeAborted, Waited: waited}
		}
		return f.failure(feedURL, classifyNetworkError(err), err, waited)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("关闭响应体失败", "feed_url", feedURL, "error", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		// 304是缓存命中，对健康跟踪而言是一次成功
		f.health.RecordSuccess(feedURL)
		f.cache.RecordHit()
		logger.Debug("Feed内容未变更", "feed_url", feedURL)
		return FetchResult{Outcome: OutcomeNotModified, Waited: waited}

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// 继续解析响应体

	default:
		// 404/403/429与其他非2xx同等对待，一律计入退避
		// （"暂时永久"的4xx也可能恢复，不做单独的永久失效分类）
		kind := fmt.Sprintf("http_%d", resp.StatusCode)
		return f.failure(feedURL, kind, fmt.Errorf("HTTP状态码 %d", resp.StatusCode), waited)
	}

	// 5. 解析Feed文档；文档级解析失败视为整个Feed抓取失败
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return f.failure(feedURL, "parse", err, waited)
	}

	// 抓取成功：更新缓存验证器并重置健康计数
	f.cache.UpdateCache(feedURL, resp.Header)
	f.cache.RecordMiss()
	f.health.RecordSuccess(feedURL)

	articles := f.convertEntries(feed, sourceName)
	logger.Info("成功抓取Feed",
		"source", sourceName,
		"feed_url", feedURL,
		"entries", len(feed.Items),
		"articles", len(articles))

	return FetchResult{Outcome: OutcomeFetched, Articles: articles, Waited: waited}
}

// failure 记录一次失败并构造Failed结果
func (f *feedFetcher) failure(feedURL, kind string, err error, waited time.Duration) FetchResult {
	becameDead := f.health.RecordFailure(feedURL)
	f.cache.RecordMiss()

	logger.Warn("抓取Feed失败",
		"feed_url", feedURL,
		"kind", kind,
		"error", err,
		"became_dead", becameDead)

	return FetchResult{
		Outcome:     OutcomeFailed,
		FailureKind: kind,
		BecameDead:  becameDead,
		Waited:      waited,
	}
}

// convertEntries 将Feed条目转换为文章记录
// 条目数量封顶entryLimit（Feed按时间倒序排列，截断的是最旧的条目）；
// 缺少可用链接或标题的条目单独跳过，不影响整个Feed的抓取结果
func (f *feedFetcher) convertEntries(feed *gofeed.Feed, sourceName string) []model.ArticleRecord {
	items := feed.Items
	if len(items) > f.entryLimit {
		items = items[:f.entryLimit]
	}

	var articles []model.ArticleRecord
	for _, item := range items {
		if item == nil {
			continue
		}

		link := strings.TrimSpace(item.Link)
		title := strings.TrimSpace(item.Title)
		if link == "" || title == "" {
			logger.Debug("条目缺少链接或标题，跳过", "source", sourceName, "title", title)
			continue
		}

		// 发布时间：优先发布时间，其次更新时间，最后用当前时间兜底
		// （多种日期格式的容错解析由gofeed完成）
		publishedAt := time.Now()
		if item.PublishedParsed != nil {
			publishedAt = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			publishedAt = *item.UpdatedParsed
		}

		// 正文：优先全文字段，其次摘要/描述
		content := item.Content
		if content == "" {
			content = item.Description
		}
		content = stripHTMLTags(content)

		articles = append(articles, model.ArticleRecord{
			URL:         link,
			Title:       title,
			Content:     content,
			SourceName:  sourceName,
			PublishedAt: publishedAt,
		})
	}
	return articles
}

// classifyNetworkError 将网络错误归入失败类别
func classifyNetworkError(err error) string {
	if err == nil {
		return ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"):
		return "connection"
	default:
		return "network"
	}
}

// stripHTMLTags 去除HTML标签，只保留纯文本
func stripHTMLTags(html string) string {
	// 如果内容为空，直接返回
	if html == "" {
		return ""
	}

	// 使用goquery解析HTML
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Warn("解析HTML失败，返回原始内容", "error", err)
		return html
	}

	// 获取文本内容，去除HTML标签
	text := doc.Text()

	// 清理文本（去除多余的空白字符）
	text = strings.TrimSpace(text)
	// 将连续的空白字符替换为单个空格
	text = strings.Join(strings.Fields(text), " ")

	return text
}
