package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFeedURL(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"合法HTTPS地址", "https://news.example.com/feed.xml", false},
		{"合法HTTP地址", "http://news.example.com/rss", false},
		{"带端口的地址", "https://news.example.com:8443/feed.xml", false},
		{"空地址", "", true},
		{"非HTTP协议", "ftp://news.example.com/feed.xml", true},
		{"缺少协议", "news.example.com/feed.xml", true},
		{"localhost", "http://localhost:8080/feed.xml", true},
		{"回环地址", "http://127.0.0.1/feed.xml", true},
		{"内网地址", "http://192.168.1.10/feed.xml", true},
		{"非法域名字符", "https://bad_domain.example.com/feed.xml", true},
		{"路径中含版本号的公网地址", "https://example.com/ios-10.0.1/feed.xml", false},
		{"查询串中含localhost的公网地址", "https://example.com/feed.xml?ref=localhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateFeedURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
