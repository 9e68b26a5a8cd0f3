package scraper

import (
	"context"
	"strings"

	"proxyharvest/proxypool/model"
)

// TextScraper 抓取以纯文本（每行一个 ip:port）发布的代理列表。
type TextScraper struct {
	name   string
	url    func(kind model.Kind) string
	kinds  onlyKinds
	client *Client
}

func newTextScraper(name string, url func(model.Kind) string, kinds onlyKinds, client *Client) *TextScraper {
	return &TextScraper{name: name, url: url, kinds: kinds, client: client}
}

func (s *TextScraper) Name() string { return s.name }

func (s *TextScraper) Supports(kind model.Kind) bool { return s.kinds.Supports(kind) }

func (s *TextScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	url := s.url(kind)
	if url == "" {
		return nil, nil
	}
	body, err := s.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return parseTextList(string(body)), nil
}

// parseTextList 解析以空白（\r\n、\n、空格）分隔的 ip:port 列表，跳过无法解析的项。
// 允许带有 "socks5://" 之类的前缀。
func parseTextList(body string) []model.Endpoint {
	var out []model.Endpoint
	for _, field := range strings.Fields(body) {
		if i := strings.Index(field, "://"); i >= 0 {
			field = field[i+3:]
		}
		ep, err := model.ParseHostPort(field)
		if err != nil {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// fixedURL returns the same url for every kind.
func fixedURL(url string) func(model.Kind) string {
	return func(model.Kind) string { return url }
}

// perKindURL 按协议选择 url，未列出的协议返回空字符串。
func perKindURL(urls map[model.Kind]string) func(model.Kind) string {
	return func(k model.Kind) string { return urls[k] }
}
