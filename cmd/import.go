package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wolfitem/feedwatch/internal/domain/service"
)

var importOutputFile string

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import [OPML文件]",
	Short: "将OPML文件转换为配置文件的sources片段",
	Long: `解析OPML订阅文件，输出可直接粘贴到config.yaml的sources配置片段。
也可以不转换，直接通过 rss.opml_file 配置项在每个周期动态并入OPML源。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceService := service.NewSourceService()
		sources, err := sourceService.ParseOpml(args[0])
		if err != nil {
			return fmt.Errorf("解析OPML失败: %w", err)
		}

		var sb strings.Builder
		sb.WriteString("sources:\n")
		for _, source := range sources {
			sb.WriteString(fmt.Sprintf("  - name: %q\n", source.Name))
			sb.WriteString("    enabled: true\n")
			sb.WriteString("    rss_feeds:\n")
			for _, feedURL := range source.FeedURLs {
				sb.WriteString(fmt.Sprintf("      - %q\n", feedURL))
			}
		}

		if importOutputFile != "" {
			if err := os.WriteFile(importOutputFile, []byte(sb.String()), 0644); err != nil {
				return fmt.Errorf("写入输出文件失败: %w", err)
			}
			fmt.Printf("sources片段已保存到: %s\n", importOutputFile)
			return nil
		}

		fmt.Print(sb.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	// 本地标志
	importCmd.Flags().StringVarP(&importOutputFile, "output", "f", "", "输出文件路径（可选，默认为stdout）")
}
