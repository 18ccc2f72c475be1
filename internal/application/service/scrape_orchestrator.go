package service

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfitem/feedwatch/internal/domain/model"
	"github.com/wolfitem/feedwatch/internal/domain/service"
	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
	"github.com/wolfitem/feedwatch/internal/middleware"
)

// ScrapeOrchestrator 定义抓取编排器的应用服务接口
// 编排一个完整的抓取周期：并发抓取所有启用的Feed、隔离单个Feed的失败、
// 按URL去重后返回唯一文章集。全部Feed失败也只返回空集，不返回错误
type ScrapeOrchestrator interface {
	// ScrapeAll 执行一个抓取周期，返回按URL去重后的文章集
	ScrapeAll(ctx context.Context) []model.ArticleRecord
}

// scrapeOrchestrator 实现ScrapeOrchestrator接口
type scrapeOrchestrator struct {
	sources []model.FeedSource
	fetcher service.FeedFetcher
	health  service.FeedHealthTracker
	cache   service.ConditionalCache

	concurrency   int
	batchTimeout  time.Duration
	cacheMaxAge   int
	logCacheStats bool
}

// NewScrapeOrchestrator 创建一个新的抓取编排器实例
// 限速器、健康跟踪器和缓存由调用方构造一次后注入（依赖注入），
// 多个引擎实例可以完全隔离，测试之间没有隐藏的共享状态
func NewScrapeOrchestrator(
	sources []model.FeedSource,
	fetcher service.FeedFetcher,
	health service.FeedHealthTracker,
	cache service.ConditionalCache,
	scrapeConfig model.ScrapeConfig,
	cacheConfig model.CacheConfig,
) ScrapeOrchestrator {
	concurrency := scrapeConfig.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	return &scrapeOrchestrator{
		sources:       sources,
		fetcher:       fetcher,
		health:        health,
		cache:         cache,
		concurrency:   concurrency,
		batchTimeout:  time.Duration(scrapeConfig.BatchTimeoutSeconds) * time.Second,
		cacheMaxAge:   cacheConfig.MaxAgeDays,
		logCacheStats: cacheConfig.LogStats,
	}
}

// fetchTask 单个Feed地址的抓取任务
type fetchTask struct {
	sourceName string
	feedURL    string
}

// fetchTaskResult 单个任务的结果
type fetchTaskResult struct {
	task   fetchTask
	result service.FetchResult
}

// ScrapeAll 执行一个抓取周期
func (o *scrapeOrchestrator) ScrapeAll(ctx context.Context) []model.ArticleRecord {
	logger.Info("开始抓取周期", "sources_count", len(o.sources))
	defer logger.TimeTrack("ScrapeAll")()

	// 记录周期开始时的内存使用情况
	logger.LogMemStatsOnce()

	// 周期开始前：重置命中率计数并清理过期缓存条目
	o.cache.ResetStats()
	o.cache.CleanupOldEntries(o.cacheMaxAge)

	tasks := o.collectTasks()
	if len(tasks) == 0 {
		logger.Warn("没有可抓取的Feed地址")
		return nil
	}

	metrics := middleware.NewScrapeMetrics()

	// 批次截止时间（可选）：到期后放弃未完成的任务，聚合已完成的结果
	batchCtx := ctx
	if o.batchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, o.batchTimeout)
		defer cancel()
	}

	// 使用通道和goroutine并行处理Feed地址
	resultChan := make(chan fetchTaskResult, len(tasks))
	// 限制并发数量，避免过多的并发请求
	semaphore := make(chan struct{}, o.concurrency)

	for _, task := range tasks {
		go func(t fetchTask) {
			// 获取信号量
			semaphore <- struct{}{}
			// 函数结束时释放信号量
			defer func() { <-semaphore }()

			// 单个任务的panic不允许波及兄弟任务
			defer func() {
				if r := recover(); r != nil {
					logger.Error("抓取任务panic", "feed_url", t.feedURL, "panic", r)
					resultChan <- fetchTaskResult{
						task: t,
						result: service.FetchResult{
							Outcome:     service.OutcomeFailed,
							FailureKind: fmt.Sprintf("panic: %v", r),
						},
					}
				}
			}()

			result := o.fetcher.Fetch(batchCtx, t.sourceName, t.feedURL)
			resultChan <- fetchTaskResult{task: t, result: result}
		}(task)
	}

	// 收集结果；批次截止后放弃剩余任务（缓冲通道保证goroutine不会泄漏阻塞）
	articles := o.collectResults(batchCtx, resultChan, len(tasks), metrics)

	// 按URL去重，首次出现者保留
	unique := dedupByURL(articles, metrics)

	o.logCycleSummary(metrics, len(unique))
	return unique
}

// collectTasks 展开所有启用源的Feed地址为任务列表
func (o *scrapeOrchestrator) collectTasks() []fetchTask {
	var tasks []fetchTask
	for _, source := range o.sources {
		if !source.Enabled {
			continue
		}
		for _, feedURL := range source.FeedURLs {
			tasks = append(tasks, fetchTask{sourceName: source.Name, feedURL: feedURL})
		}
	}
	return tasks
}

// collectResults 收集任务结果直到全部完成或批次截止
func (o *scrapeOrchestrator) collectResults(
	batchCtx context.Context,
	resultChan <-chan fetchTaskResult,
	total int,
	metrics *middleware.ScrapeMetrics,
) []model.ArticleRecord {
	var articles []model.ArticleRecord

	completed := 0
	for completed < total {
		select {
		case r := <-resultChan:
			completed++
			metrics.RecordWait(r.result.Waited)

			switch r.result.Outcome {
			case service.OutcomeFetched:
				metrics.RecordFetched(len(r.result.Articles))
				articles = append(articles, r.result.Articles...)
			case service.OutcomeNotModified:
				metrics.RecordNotModified()
			case service.OutcomeSkipped:
				metrics.RecordSkipped()
			case service.OutcomeFailed:
				metrics.RecordFailed()
			case service.OutcomeAborted:
				metrics.RecordAborted()
			}

		case <-batchCtx.Done():
			logger.Error("抓取周期到达批次截止时间，放弃未完成的任务",
				"completed", completed, "total", total)
			return articles
		}
	}
	return articles
}

// dedupByURL 按URL去重，保留首次出现的记录
func dedupByURL(articles []model.ArticleRecord, metrics *middleware.ScrapeMetrics) []model.ArticleRecord {
	seen := make(map[string]struct{}, len(articles))
	unique := make([]model.ArticleRecord, 0, len(articles))
	duplicates := 0

	for _, article := range articles {
		if _, ok := seen[article.URL]; ok {
			duplicates++
			continue
		}
		seen[article.URL] = struct{}{}
		unique = append(unique, article)
	}

	if duplicates > 0 {
		metrics.RecordDuplicates(duplicates)
		logger.Info("去重完成", "duplicates_dropped", duplicates, "unique", len(unique))
	}
	return unique
}

// logCycleSummary 输出周期级观测信息：指标、缓存命中率与失效Feed报告
func (o *scrapeOrchestrator) logCycleSummary(metrics *middleware.ScrapeMetrics, uniqueCount int) {
	middleware.LogScrapeMetrics(metrics)

	if o.logCacheStats {
		stats := o.cache.Stats()
		logger.Info("缓存命中统计",
			"hits", stats.Hits,
			"misses", stats.Misses,
			"hit_rate", fmt.Sprintf("%.2f%%", stats.HitRate),
			"entries", stats.TotalItems)
	}

	healthy, dead := o.health.Counts()
	logger.Info("Feed健康汇总", "healthy", healthy, "dead", dead)
	for _, info := range o.health.DeadFeeds() {
		logger.Warn("失效Feed报告",
			"feed_url", info.FeedURL,
			"consecutive_failures", info.ConsecutiveFailures,
			"next_retry", info.NextRetry)
	}

	logger.Info("抓取周期完成", "unique_articles", uniqueCount)
}
