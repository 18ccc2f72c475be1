package model

import "time"

// FeedSource 表示一个新闻源，可包含多个RSS地址
type FeedSource struct {
	Name     string   `mapstructure:"name"`      // 源名称
	Enabled  bool     `mapstructure:"enabled"`   // 是否启用
	FeedURLs []string `mapstructure:"rss_feeds"` // RSS地址列表（有序）
}

// ArticleRecord 表示一篇抓取到的文章
// 以URL作为唯一标识：URL相同即视为同一篇文章，这是去重的依据
type ArticleRecord struct {
	URL         string    // 文章链接（唯一标识）
	Title       string    // 标题
	Content     string    // 纯文本内容（已去除HTML标签）
	SourceName  string    // 来源名称
	PublishedAt time.Time // 发布时间
}

// ScrapeConfig 抓取相关配置
type ScrapeConfig struct {
	TimeoutSeconds      int      `mapstructure:"timeout_seconds"`       // 单次请求超时（秒）
	Concurrency         int      `mapstructure:"concurrency"`           // 并发上限
	EntryLimit          int      `mapstructure:"entry_limit"`           // 单个Feed最多保留条目数
	BatchTimeoutSeconds int      `mapstructure:"batch_timeout_seconds"` // 批次整体截止（秒，0表示不限制）
	Schedule            string   `mapstructure:"schedule"`              // watch命令的调度表达式
	UserAgents          []string `mapstructure:"user_agents"`           // User-Agent轮换列表
}

// RateLimitConfig 域名限速配置
type RateLimitConfig struct {
	PerDomainDelaySeconds float64 `mapstructure:"per_domain_delay_seconds"` // 同域名请求最小间隔（秒）
}

// CacheConfig HTTP条件请求缓存配置
type CacheConfig struct {
	Enabled       bool   `mapstructure:"enabled"`         // 是否启用缓存
	CacheFilePath string `mapstructure:"cache_file_path"` // 缓存文件路径
	MaxAgeDays    int    `mapstructure:"max_age_days"`    // 缓存条目最大保留天数
	LogStats      bool   `mapstructure:"log_stats"`       // 是否输出命中率统计
}

// FeedHealthConfig Feed健康跟踪配置
type FeedHealthConfig struct {
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"` // 连续失败多少次后标记为失效
	BaseBackoffMinutes     int `mapstructure:"base_backoff_minutes"`     // 退避基数（分钟）
}

// DatabaseConfig 包含数据库的配置信息
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`   // 是否启用数据库
	FilePath string `mapstructure:"file_path"` // 数据库文件路径
}

// ScrapeParams 包含一次抓取周期的全部参数
type ScrapeParams struct {
	Sources        []FeedSource     // 配置文件中的Feed源
	OpmlFile       string           // 可选的OPML文件路径，解析后并入源列表
	Scrape         ScrapeConfig     // 抓取配置
	RateLimit      RateLimitConfig  // 限速配置
	Cache          CacheConfig      // 缓存配置
	FeedHealth     FeedHealthConfig // 健康跟踪配置
	DatabaseConfig DatabaseConfig   // 数据库配置
}
