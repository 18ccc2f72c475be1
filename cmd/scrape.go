package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	appservice "github.com/wolfitem/feedwatch/internal/application/service"
	"github.com/wolfitem/feedwatch/internal/domain/model"
	"github.com/wolfitem/feedwatch/internal/domain/service"
	"github.com/wolfitem/feedwatch/internal/infrastructure/database"
	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
	"github.com/wolfitem/feedwatch/internal/middleware"
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "执行一次抓取周期",
	Long: `并发抓取配置中所有启用的Feed源，按URL去重后输出唯一文章集。
启用数据库时，去重后的文章会写入SQLite供下游处理流程消费。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := loadScrapeParams()
		orchestrator, err := buildEngine(params)
		if err != nil {
			return err
		}
		return runScrapeCycle(orchestrator, params)
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
}

// loadScrapeParams 从配置文件装配抓取参数
func loadScrapeParams() model.ScrapeParams {
	var sources []model.FeedSource
	if err := viper.UnmarshalKey("sources", &sources); err != nil {
		logger.Error("解析sources配置失败", "error", err)
	}

	return model.ScrapeParams{
		Sources:  sources,
		OpmlFile: viper.GetString("rss.opml_file"),
		Scrape: model.ScrapeConfig{
			TimeoutSeconds:      viper.GetInt("scraping.timeout_seconds"),
			Concurrency:         viper.GetInt("scraping.concurrency"),
			EntryLimit:          viper.GetInt("scraping.entry_limit"),
			BatchTimeoutSeconds: viper.GetInt("scraping.batch_timeout_seconds"),
			Schedule:            viper.GetString("scraping.schedule"),
			UserAgents:          viper.GetStringSlice("scraping.user_agents"),
		},
		RateLimit: model.RateLimitConfig{
			PerDomainDelaySeconds: viper.GetFloat64("rate_limiting.per_domain_delay_seconds"),
		},
		Cache: model.CacheConfig{
			Enabled:       viper.GetBool("caching.enabled"),
			CacheFilePath: viper.GetString("caching.cache_file_path"),
			MaxAgeDays:    viper.GetInt("caching.max_age_days"),
			LogStats:      viper.GetBool("caching.log_stats"),
		},
		FeedHealth: model.FeedHealthConfig{
			MaxConsecutiveFailures: viper.GetInt("feed_health.max_consecutive_failures"),
			BaseBackoffMinutes:     viper.GetInt("feed_health.base_backoff_minutes"),
		},
		DatabaseConfig: model.DatabaseConfig{
			Enabled:  viper.GetBool("database.enabled"),
			FilePath: viper.GetString("database.file_path"),
		},
	}
}

// buildEngine 构造一套完整的引擎实例
// 限速器、健康跟踪器与缓存在此构造一次并注入编排器，不使用任何进程级单例；
// watch命令复用同一实例执行多个周期，健康与限速状态因此跨周期保留
func buildEngine(params model.ScrapeParams) (appservice.ScrapeOrchestrator, error) {
	// 装配Feed源列表（配置源 + 可选OPML导入）
	sourceService := service.NewSourceService()
	sources, err := sourceService.LoadSources(params)
	if err != nil {
		logger.Error("装配Feed源失败", "error", err)
		return nil, fmt.Errorf("装配Feed源失败: %w", err)
	}

	minDelay := time.Duration(params.RateLimit.PerDomainDelaySeconds * float64(time.Second))
	limiter := middleware.NewDomainRateLimiter(minDelay)
	health := service.NewFeedHealthTracker(params.FeedHealth)
	cache := service.NewConditionalCache(params.Cache)
	fetcher := service.NewFeedFetcher(limiter, health, cache, params.Scrape)

	return appservice.NewScrapeOrchestrator(
		sources, fetcher, health, cache, params.Scrape, params.Cache), nil
}

// runScrapeCycle 执行一个完整的抓取周期并落地结果
func runScrapeCycle(orchestrator appservice.ScrapeOrchestrator, params model.ScrapeParams) error {
	defer logger.TimeTrack("runScrapeCycle")()

	articles := orchestrator.ScrapeAll(context.Background())
	logger.Info("抓取周期结束", "unique_articles", len(articles))

	// 将去重后的文章写入数据库（如果启用）
	if params.DatabaseConfig.Enabled {
		if err := saveArticles(params.DatabaseConfig, articles); err != nil {
			logger.Error("保存文章到数据库失败", "error", err)
			return fmt.Errorf("保存文章到数据库失败: %w", err)
		}
	}

	fmt.Printf("抓取完成: %d篇唯一文章\n", len(articles))
	return nil
}

// saveArticles 将文章集写入SQLite存储库
func saveArticles(config model.DatabaseConfig, articles []model.ArticleRecord) error {
	db := database.NewSQLiteDatabase(config.FilePath)
	if err := db.Init(); err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("关闭数据库失败", "error", err)
		}
	}()

	repo := database.NewSQLiteArticleRepository(db)
	saved := 0
	for _, article := range articles {
		if err := repo.SaveArticle(article); err != nil {
			logger.Error("保存文章失败", "url", article.URL, "error", err)
			// 继续处理其他文章，不中断流程
			continue
		}
		saved++
	}

	total, err := repo.ArticleCount()
	if err != nil {
		logger.Warn("统计文章数量失败", "error", err)
	}
	logger.Info("文章入库完成", "saved", saved, "total_in_db", total)
	return nil
}
