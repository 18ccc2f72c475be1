package service

import (
	"fmt"

	"github.com/gilliek/go-opml/opml"
	"github.com/wolfitem/feedwatch/internal/domain/model"
	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
)

// SourceService 定义Feed源装配的领域服务接口
type SourceService interface {
	// LoadSources 装配启用的Feed源列表：配置源加上可选的OPML导入源
	LoadSources(params model.ScrapeParams) ([]model.FeedSource, error)

	// ParseOpml 解析OPML文件并返回Feed源列表
	ParseOpml(opmlFilePath string) ([]model.FeedSource, error)
}

// sourceService 实现SourceService接口
type sourceService struct {
	validator *Validator
}

// NewSourceService 创建一个新的Feed源服务实例
func NewSourceService() SourceService {
	return &sourceService{
		validator: NewValidator(),
	}
}

// LoadSources 装配启用的Feed源列表
// 非法的Feed地址在装配阶段剔除并告警，不会进入抓取周期
func (s *sourceService) LoadSources(params model.ScrapeParams) ([]model.FeedSource, error) {
	var sources []model.FeedSource

	for _, source := range params.Sources {
		if !source.Enabled {
			logger.Debug("跳过未启用的源", "name", source.Name)
			continue
		}
		if filtered := s.filterSource(source); len(filtered.FeedURLs) > 0 {
			sources = append(sources, filtered)
		}
	}

	// 可选的OPML导入
	if params.OpmlFile != "" {
		opmlSources, err := s.ParseOpml(params.OpmlFile)
		if err != nil {
			return nil, fmt.Errorf("导入OPML源失败: %w", err)
		}
		for _, source := range opmlSources {
			if filtered := s.filterSource(source); len(filtered.FeedURLs) > 0 {
				sources = append(sources, filtered)
			}
		}
	}

	logger.Info("Feed源装配完成", "sources_count", len(sources))
	return sources, nil
}

// filterSource 剔除源中非法的Feed地址
func (s *sourceService) filterSource(source model.FeedSource) model.FeedSource {
	var validURLs []string
	for _, feedURL := range source.FeedURLs {
		if err := s.validator.ValidateFeedURL(feedURL); err != nil {
			logger.Warn("剔除非法Feed地址", "name", source.Name, "url", feedURL, "error", err)
			continue
		}
		validURLs = append(validURLs, feedURL)
	}
	source.FeedURLs = validURLs
	return source
}

// ParseOpml 解析OPML文件并返回Feed源列表
func (s *sourceService) ParseOpml(opmlFilePath string) ([]model.FeedSource, error) {
	logger.Info("开始解析OPML文件", "file", opmlFilePath)
	defer logger.TimeTrack("ParseOpml")()

	if err := s.validator.ValidateOpmlPath(opmlFilePath); err != nil {
		return nil, fmt.Errorf("OPML文件路径校验失败: %w", err)
	}

	// 解析OPML文件
	doc, err := opml.NewOPMLFromFile(opmlFilePath)
	if err != nil {
		logger.Error("解析OPML文件失败", "file", opmlFilePath, "error", err)
		return nil, fmt.Errorf("解析OPML文件失败: %w", err)
	}

	// 提取Feed源
	var sources []model.FeedSource
	for _, outline := range doc.Outlines() {
		// 递归处理所有outline
		sources = append(sources, extractSources(outline)...)
	}

	logger.Info("OPML文件解析完成", "file", opmlFilePath, "sources_count", len(sources))
	return sources, nil
}

// extractSources 递归提取outline中的Feed源
func extractSources(outline opml.Outline) []model.FeedSource {
	var sources []model.FeedSource

	// 如果当前outline有xmlUrl属性，则它是一个Feed源
	if outline.XMLURL != "" {
		name := outline.Title
		if name == "" {
			name = outline.Text
		}
		sources = append(sources, model.FeedSource{
			Name:     name,
			Enabled:  true,
			FeedURLs: []string{outline.XMLURL},
		})
	}

	// 递归处理子outline
	for _, child := range outline.Outlines {
		sources = append(sources, extractSources(child)...)
	}

	return sources
}
