package middleware

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainRateLimiter 对同一域名的请求强制最小间隔
// 每个域名持有独立的限速器，不同域名之间互不阻塞；
// 锁只保护域名到限速器的映射，等待发生在锁外
type DomainRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	minDelay time.Duration
}

// NewDomainRateLimiter 创建新的域名限速器
// minDelay为同一域名两次请求之间的最小间隔，<=0表示不限速
func NewDomainRateLimiter(minDelay time.Duration) *DomainRateLimiter {
	return &DomainRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		minDelay: minDelay,
	}
}

// WaitIfNeeded 在必要时等待，返回实际等待时长
// 时间槽在预约时即被占用，同一域名的并发调用因此正确串行；
// 取消等待时归还预约，避免空耗时间槽
func (l *DomainRateLimiter) WaitIfNeeded(ctx context.Context, rawURL string) (time.Duration, error) {
	domain := extractDomain(rawURL)

	l.mu.Lock()
	lim, ok := l.limiters[domain]
	if !ok {
		// rate.Every对非正间隔返回Inf，minDelay<=0时自然不限速
		lim = rate.NewLimiter(rate.Every(l.minDelay), 1)
		l.limiters[domain] = lim
	}
	l.mu.Unlock()

	reservation := lim.Reserve()
	delay := reservation.Delay()
	if delay <= 0 {
		return 0, nil
	}

	select {
	case <-time.After(delay):
		return delay, nil
	case <-ctx.Done():
		reservation.Cancel()
		return 0, ctx.Err()
	}
}

// DomainCount 返回已跟踪的域名数量
func (l *DomainRateLimiter) DomainCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// extractDomain 从URL中提取域名（小写主机名，不含端口）
// 解析失败时退回原始字符串，保证限速器永不失败，只会等待
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}
	return strings.ToLower(u.Hostname())
}
