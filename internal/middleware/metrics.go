package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
)

// ScrapeMetrics 收集单个抓取周期的统计指标
type ScrapeMetrics struct {
	mu sync.Mutex

	startTime time.Time

	// Feed抓取统计
	feedsFetched     int64
	feedsNotModified int64
	feedsSkipped     int64
	feedsFailed      int64
	feedsAborted     int64

	// 文章统计
	articlesCollected int64
	duplicatesDropped int64

	// 限速统计
	totalWaitTime time.Duration
}

// NewScrapeMetrics 创建新的抓取指标收集器
func NewScrapeMetrics() *ScrapeMetrics {
	return &ScrapeMetrics{
		startTime: time.Now(),
	}
}

// RecordFetched 记录一次成功抓取
func (m *ScrapeMetrics) RecordFetched(articleCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedsFetched++
	m.articlesCollected += int64(articleCount)
}

// RecordNotModified 记录一次304未变更
func (m *ScrapeMetrics) RecordNotModified() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedsNotModified++
}

// RecordSkipped 记录一次跳过（失效Feed退避中）
func (m *ScrapeMetrics) RecordSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedsSkipped++
}

// RecordFailed 记录一次抓取失败
func (m *ScrapeMetrics) RecordFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedsFailed++
}

// RecordAborted 记录一次任务放弃（批次截止或外部取消）
func (m *ScrapeMetrics) RecordAborted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedsAborted++
}

// RecordDuplicates 记录去重丢弃的文章数量
func (m *ScrapeMetrics) RecordDuplicates(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.duplicatesDropped += int64(count)
}

// RecordWait 记录限速等待时长
func (m *ScrapeMetrics) RecordWait(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalWaitTime += d
}

// Report 周期统计报告
type Report struct {
	Duration          time.Duration
	FeedsFetched      int64
	FeedsNotModified  int64
	FeedsSkipped      int64
	FeedsFailed       int64
	FeedsAborted      int64
	ArticlesCollected int64
	DuplicatesDropped int64
	TotalWaitTime     time.Duration
	SuccessRate       float64
}

// GetReport 获取当前周期的统计报告
func (m *ScrapeMetrics) GetReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 成功率只统计实际发起的请求；跳过和放弃的任务不参与计算
	attempted := m.feedsFetched + m.feedsNotModified + m.feedsFailed
	successRate := 100.0
	if attempted > 0 {
		successRate = float64(m.feedsFetched+m.feedsNotModified) / float64(attempted) * 100
	}

	return Report{
		Duration:          time.Since(m.startTime),
		FeedsFetched:      m.feedsFetched,
		FeedsNotModified:  m.feedsNotModified,
		FeedsSkipped:      m.feedsSkipped,
		FeedsFailed:       m.feedsFailed,
		FeedsAborted:      m.feedsAborted,
		ArticlesCollected: m.articlesCollected,
		DuplicatesDropped: m.duplicatesDropped,
		TotalWaitTime:     m.totalWaitTime,
		SuccessRate:       successRate,
	}
}

// LogScrapeMetrics 将周期指标输出到日志
func LogScrapeMetrics(metrics *ScrapeMetrics) {
	report := metrics.GetReport()
	logger.Info("抓取周期统计",
		"duration", report.Duration,
		"feeds_fetched", report.FeedsFetched,
		"feeds_not_modified", report.FeedsNotModified,
		"feeds_skipped", report.FeedsSkipped,
		"feeds_failed", report.FeedsFailed,
		"feeds_aborted", report.FeedsAborted,
		"articles_collected", report.ArticlesCollected,
		"duplicates_dropped", report.DuplicatesDropped,
		"total_wait_time", report.TotalWaitTime,
		"success_rate", fmt.Sprintf("%.2f%%", report.SuccessRate),
	)
}
