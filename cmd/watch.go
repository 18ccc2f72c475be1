package cmd

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "按计划周期性执行抓取",
	Long: `按配置的调度表达式（scraping.schedule，支持cron表达式和@every语法）
周期性执行抓取，直到收到中断信号。引擎实例只构造一次，
Feed健康状态与限速状态跨周期保留，失效Feed的指数退避因此能够生效。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := loadScrapeParams()

		orchestrator, err := buildEngine(params)
		if err != nil {
			return err
		}

		// 长驻进程：周期性输出内存使用情况
		memMonitor := logger.NewMemStatsMonitor(10 * time.Minute)
		memMonitor.Start()
		defer memMonitor.Stop()

		schedule := params.Scrape.Schedule
		if schedule == "" {
			schedule = "@every 15m"
		}

		logger.Info("启动定时抓取", "schedule", schedule)
		fmt.Printf("定时抓取已启动，调度: %s\n", schedule)

		c := cron.New()
		_, err = c.AddFunc(schedule, func() {
			if err := runScrapeCycle(orchestrator, params); err != nil {
				logger.Error("定时抓取周期失败", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("无效的调度表达式 '%s': %w", schedule, err)
		}

		// 启动后立即执行一次，不等待首个调度点
		if err := runScrapeCycle(orchestrator, params); err != nil {
			logger.Error("首次抓取周期失败", "error", err)
		}

		c.Start()
		// 阻塞等待中断信号（信号处理在root命令中注册）
		select {}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
