package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/gocolly/colly/v2"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/model"
)

var fpsListRe = regexp.MustCompile(`(var|let|const)\s+fpsList\s*=\s*(\[.*?\]);`)

// KuaidailiScraper 实现了 Scraper 接口，用于抓取 www.kuaidaili.com 的免费代理。
// 代理列表以 JSON 的形式写在页面内联脚本的 fpsList 变量里。该站只提供 HTTP 代理。
type KuaidailiScraper struct {
	client  *Client
	baseURL string
	pages   []string
	delay   time.Duration
}

// tempKuaidailiProxy 定义了用于解析 JS 变量中 JSON 的临时结构体。
type tempKuaidailiProxy struct {
	IP   string `json:"ip"`
	Port string `json:"port"`
}

func NewKuaidailiScraper(client *Client) *KuaidailiScraper {
	return &KuaidailiScraper{
		client:  client,
		baseURL: "https://www.kuaidaili.com",
		pages:   []string{"/free/intr/1/", "/free/intr/2/", "/free/inha/1/", "/free/inha/2/"},
		delay:   2 * time.Second,
	}
}

func (s *KuaidailiScraper) Name() string { return "kuaidaili" }

func (s *KuaidailiScraper) Supports(kind model.Kind) bool { return kind == model.KindHTTP }

// Fetch 依次访问各个分页，页面之间稍作停顿，避免对目标服务器造成过大压力。
func (s *KuaidailiScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	c := colly.NewCollector(
		colly.UserAgent(s.client.UserAgent()),
		colly.StdlibContext(ctx),
	)
	c.WithTransport(s.client.Transport())
	c.SetRequestTimeout(s.client.Timeout())

	var (
		out     []model.Endpoint
		lastErr error
		okPages int
	)

	c.OnResponse(func(r *colly.Response) {
		matches := fpsListRe.FindSubmatch(r.Body)
		if len(matches) < 3 {
			l.Warn().Str("url", r.Request.URL.String()).Msg("Could not find fpsList variable in response body.")
			return
		}
		var tempList []tempKuaidailiProxy
		if err := json.Unmarshal(matches[2], &tempList); err != nil {
			l.Warn().Err(err).Str("url", r.Request.URL.String()).Msg("Failed to unmarshal fpsList JSON.")
			return
		}
		okPages++
		for _, p := range tempList {
			ep, err := model.ParseEndpoint(p.IP, p.Port)
			if err != nil {
				continue
			}
			out = append(out, ep)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Warn().Err(err).Int("status_code", r.StatusCode).Str("url", r.Request.URL.String()).Msg("Scrape request failed.")
		lastErr = err
	})

	for i, page := range s.pages {
		if i > 0 && s.delay > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(s.delay):
			}
		}
		url := s.baseURL + page
		if err := c.Visit(url); err != nil && lastErr == nil {
			lastErr = err
		}
	}
	c.Wait()

	if okPages == 0 && lastErr != nil {
		return nil, fmt.Errorf("kuaidaili: %w", lastErr)
	}
	return out, nil
}
