package database

import (
	"fmt"
	"time"

	"github.com/wolfitem/feedwatch/internal/domain/model"
	"github.com/wolfitem/feedwatch/internal/infrastructure/logger"
)

// ArticleRepository 定义文章存储库接口
// 这是引擎输出的下游落地点：抓取周期产出的去重文章集写入此处
type ArticleRepository interface {
	// SaveArticle 保存文章记录，URL已存在时跳过
	SaveArticle(article model.ArticleRecord) error
	// ArticleExists 检查文章是否已存在
	ArticleExists(url string) (bool, error)
	// GetArticleByURL 根据URL获取文章
	GetArticleByURL(url string) (*model.ArticleRecord, error)
	// ArticleCount 返回文章总数
	ArticleCount() (int64, error)
}

// SQLiteArticleRepository 实现ArticleRepository接口的SQLite存储库
type SQLiteArticleRepository struct {
	db Database
}

// NewSQLiteArticleRepository 创建一个新的SQLite文章存储库
func NewSQLiteArticleRepository(db Database) ArticleRepository {
	return &SQLiteArticleRepository{
		db: db,
	}
}

// SaveArticle 保存文章记录到数据库
func (r *SQLiteArticleRepository) SaveArticle(article model.ArticleRecord) error {
	// 检查文章是否已存在
	exists, err := r.ArticleExists(article.URL)
	if err != nil {
		logger.Error("检查文章是否存在失败", "error", err)
		return fmt.Errorf("检查文章是否存在失败: %w", err)
	}

	// 如果文章已存在，则不再保存
	if exists {
		logger.Debug("文章已存在，跳过保存", "url", article.URL)
		return nil
	}

	// 插入文章记录
	query := `
	INSERT INTO articles (url, title, content, source, published_at)
	VALUES (?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		article.URL,
		article.Title,
		article.Content,
		article.SourceName,
		article.PublishedAt.UTC().Format(time.RFC3339))
	if err != nil {
		logger.Error("保存文章失败", "error", err)
		return fmt.Errorf("保存文章失败: %w", err)
	}

	logger.Debug("文章保存成功", "title", article.Title, "url", article.URL)
	return nil
}

// ArticleExists 检查文章是否已存在于数据库中
func (r *SQLiteArticleRepository) ArticleExists(url string) (bool, error) {
	query := "SELECT COUNT(*) FROM articles WHERE url = ?"
	var count int
	err := r.db.QueryRow(query, url).Scan(&count)
	if err != nil {
		logger.Error("查询文章失败", "error", err)
		return false, fmt.Errorf("查询文章失败: %w", err)
	}

	return count > 0, nil
}

// GetArticleByURL 根据URL获取文章
func (r *SQLiteArticleRepository) GetArticleByURL(url string) (*model.ArticleRecord, error) {
	query := "SELECT url, title, content, source, published_at FROM articles WHERE url = ?"
	row := r.db.QueryRow(query, url)

	var article model.ArticleRecord
	var publishedAt string
	err := row.Scan(&article.URL, &article.Title, &article.Content, &article.SourceName, &publishedAt)
	if err != nil {
		logger.Error("获取文章失败", "error", err)
		return nil, fmt.Errorf("获取文章失败: %w", err)
	}

	if parsed, err := time.Parse(time.RFC3339, publishedAt); err == nil {
		article.PublishedAt = parsed
	}

	return &article, nil
}

// ArticleCount 返回文章总数
func (r *SQLiteArticleRepository) ArticleCount() (int64, error) {
	var count int64
	err := r.db.QueryRow("SELECT COUNT(*) FROM articles").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("统计文章数量失败: %w", err)
	}
	return count, nil
}
