package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Validator 提供输入验证功能
type Validator struct{}

// NewValidator 创建新的验证器实例
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateOpmlPath 验证OPML文件路径安全性
func (v *Validator) ValidateOpmlPath(filePath string) error {
	// 检查文件路径是否为空
	if strings.TrimSpace(filePath) == "" {
		return errors.New("文件路径不能为空")
	}

	// 使用filepath.Clean清理路径
	cleanPath := filepath.Clean(filePath)

	// 检查路径是否包含目录遍历尝试
	if strings.Contains(cleanPath, "..") || strings.Contains(cleanPath, "~") {
		return fmt.Errorf("路径包含非法字符: %s", cleanPath)
	}

	// 检查文件扩展名
	if !strings.HasSuffix(strings.ToLower(cleanPath), ".opml") {
		return fmt.Errorf("只允许.OPML文件格式: %s", cleanPath)
	}

	// 验证文件是否存在且为普通文件
	info, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("文件访问失败: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("路径指向目录而非文件: %s", cleanPath)
	}

	// 验证文件大小合理性（最大10MB限制）
	if info.Size() > 10*1024*1024 {
		return fmt.Errorf("文件过大(>10MB): %s", cleanPath)
	}

	return nil
}

// ValidateFeedURL 验证Feed地址合法性
func (v *Validator) ValidateFeedURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("URL不能为空")
	}

	// 限制协议类型
	lowerURL := strings.ToLower(url)
	if !strings.HasPrefix(lowerURL, "http://") && !strings.HasPrefix(lowerURL, "https://") {
		return fmt.Errorf("只允许HTTP/HTTPS协议: %s", url)
	}

	// 提取域名部分
	domain := lowerURL
	if strings.HasPrefix(domain, "http://") {
		domain = strings.TrimPrefix(domain, "http://")
	} else {
		domain = strings.TrimPrefix(domain, "https://")
	}

	// 移除端口号和路径
	if slashIndex := strings.Index(domain, "/"); slashIndex != -1 {
		domain = domain[:slashIndex]
	}
	if colonIndex := strings.Index(domain, ":"); colonIndex != -1 {
		domain = domain[:colonIndex]
	}

	if domain == "" {
		return fmt.Errorf("无效的URL格式: %s", url)
	}

	// 黑名单检查 - 禁止访问内部网络
	// 只匹配主机名本身，路径或查询串中的相似片段不受影响
	blacklistHosts := []string{"localhost", "127.0.0.1", "0.0.0.0", "::1"}
	for _, banned := range blacklistHosts {
		if domain == banned {
			return fmt.Errorf("禁止访问内部网络地址: %s", banned)
		}
	}
	blacklistPrefixes := []string{"192.168.", "10.0.", "172.16.", "169.254."}
	for _, prefix := range blacklistPrefixes {
		if strings.HasPrefix(domain, prefix) {
			return fmt.Errorf("禁止访问内部网络地址: %s", prefix)
		}
	}

	// 验证域名格式
	domainRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
	parts := strings.Split(domain, ".")
	for _, part := range parts {
		if !domainRegex.MatchString(part) {
			return fmt.Errorf("无效域名: %s", part)
		}
	}

	return nil
}
