package service

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wolfitem/feedwatch/internal/domain/model"
	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
)

// CacheEntry 缓存条目，保存HTTP条件请求所需的验证器
type CacheEntry struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	LastFetched  string `json:"last_fetched"`
}

// CacheStats 缓存统计信息
type CacheStats struct {
	Hits       int64
	Misses     int64
	HitRate    float64
	TotalItems int
}

// ConditionalCache 定义HTTP条件请求缓存接口
// 内存映射是权威工作副本，每次更新后写穿到磁盘文件；
// 文件缺失或损坏时降级为空缓存，不会让引擎崩溃
type ConditionalCache interface {
	// GetCacheHeaders 返回URL对应的条件请求头（If-None-Match / If-Modified-Since）
	GetCacheHeaders(url string) map[string]string

	// UpdateCache 从成功响应头中提取ETag和Last-Modified并保存
	UpdateCache(url string, headers http.Header)

	// RecordHit 记录一次缓存命中（304响应）
	RecordHit()

	// RecordMiss 记录一次缓存未命中
	RecordMiss()

	// Stats 获取命中率统计
	Stats() CacheStats

	// ResetStats 重置命中率计数
	ResetStats()

	// CleanupOldEntries 删除超过保留期限的条目，返回删除数量
	CleanupOldEntries(maxAgeDays int) int
}

// fileConditionalCache 基于JSON文件持久化的缓存实现
type fileConditionalCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry

	enabled  bool
	filePath string

	hits   int64
	misses int64
}

// NewConditionalCache 创建新的条件请求缓存并加载磁盘快照
func NewConditionalCache(config model.CacheConfig) ConditionalCache {
	c := &fileConditionalCache{
		entries:  make(map[string]CacheEntry),
		enabled:  config.Enabled,
		filePath: config.CacheFilePath,
	}

	if c.enabled && c.filePath != "" {
		c.load()
	}
	return c
}

// GetCacheHeaders 返回URL对应的条件请求头
func (c *fileConditionalCache) GetCacheHeaders(url string) map[string]string {
	headers := make(map[string]string)
	if !c.enabled {
		return headers
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		return headers
	}
	if entry.ETag != "" {
		headers["If-None-Match"] = entry.ETag
	}
	if entry.LastModified != "" {
		headers["If-Modified-Since"] = entry.LastModified
	}
	return headers
}

// UpdateCache 从成功响应头中提取验证器并保存
// 响应不携带任何验证器时不创建条目
func (c *fileConditionalCache) UpdateCache(url string, headers http.Header) {
	if !c.enabled {
		return
	}

	etag := headers.Get("ETag")
	lastModified := headers.Get("Last-Modified")
	if etag == "" && lastModified == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = CacheEntry{
		ETag:         etag,
		LastModified: lastModified,
		LastFetched:  time.Now().UTC().Format(time.RFC3339),
	}
	c.persistLocked()
}

// RecordHit 记录一次缓存命中
func (c *fileConditionalCache) RecordHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
}

// RecordMiss 记录一次缓存未命中
func (c *fileConditionalCache) RecordMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
}

// Stats 获取命中率统计
func (c *fileConditionalCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}
	return CacheStats{
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    hitRate,
		TotalItems: len(c.entries),
	}
}

// ResetStats 重置命中率计数
func (c *fileConditionalCache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = 0
	c.misses = 0
}

// CleanupOldEntries 删除超过保留期限的条目
// 时间戳缺失或无法解析的条目一律视为过期删除
func (c *fileConditionalCache) CleanupOldEntries(maxAgeDays int) int {
	if maxAgeDays <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	removed := 0
	for url, entry := range c.entries {
		fetchedAt, err := time.Parse(time.RFC3339, entry.LastFetched)
		if err != nil || fetchedAt.Before(cutoff) {
			delete(c.entries, url)
			removed++
		}
	}

	if removed > 0 {
		c.persistLocked()
		logger.Info("清理过期缓存条目", "removed", removed, "max_age_days", maxAgeDays)
	}
	return removed
}

// load 从磁盘加载缓存快照，失败时降级为空缓存
func (c *fileConditionalCache) load() {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("读取缓存文件失败，使用空缓存", "file", c.filePath, "error", err)
		}
		return
	}

	var entries map[string]CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("缓存文件格式损坏，使用空缓存", "file", c.filePath, "error", err)
		return
	}

	c.entries = entries
	logger.Info("缓存文件加载成功", "file", c.filePath, "entries", len(entries))
}

// persistLocked 将内存副本写入磁盘，调用方必须持锁
// 写入失败只记录日志，本周期降级为纯内存缓存
func (c *fileConditionalCache) persistLocked() {
	if c.filePath == "" {
		return
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		logger.Error("序列化缓存失败", "error", err)
		return
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("创建缓存目录失败", "dir", dir, "error", err)
		return
	}

	// 先写临时文件再改名，避免写入中断留下半个文件
	tmpPath := c.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		logger.Error("写入缓存文件失败", "file", tmpPath, "error", err)
		return
	}
	if err := os.Rename(tmpPath, c.filePath); err != nil {
		logger.Error("替换缓存文件失败", "file", c.filePath, "error", err)
	}
}
