package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"proxyharvest/proxypool/model"
)

var documentWriteRe = regexp.MustCompile(`document\.write\('(.+?)'\)`)

// ProxynovaScraper 抓取 proxynova.com。IP 有时通过 document.write 写入单元格。
type ProxynovaScraper struct {
	client *Client
	url    string
}

func NewProxynovaScraper(client *Client) *ProxynovaScraper {
	return &ProxynovaScraper{client: client, url: "https://www.proxynova.com/proxy-server-list/"}
}

func (s *ProxynovaScraper) Name() string { return "proxynova" }

func (s *ProxynovaScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.client.UserAgent()),
		colly.StdlibContext(ctx),
	)
	c.WithTransport(s.client.Transport())
	c.SetRequestTimeout(s.client.Timeout())

	var (
		out      []model.Endpoint
		fetchErr error
	)
	c.OnHTML("table#tbl_proxy_list tbody tr", func(e *colly.HTMLElement) {
		cells := e.DOM.Find("td")
		if cells.Length() < 2 {
			return
		}
		ip, ok := proxynovaIP(cells.Eq(0))
		if !ok {
			return
		}
		ep, err := model.ParseEndpoint(ip, cells.Eq(1).Text())
		if err != nil {
			return
		}
		out = append(out, ep)
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(s.url); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("proxynova: %w", fetchErr)
	}
	return out, nil
}

// proxynovaIP 从脚本 document.write('ip') 中提取 IP，没有脚本时直接取文本。
func proxynovaIP(cell *goquery.Selection) (string, bool) {
	if script := cell.Find("script"); script.Length() > 0 {
		m := documentWriteRe.FindStringSubmatch(script.Text())
		if m == nil {
			return "", false
		}
		return strings.TrimSpace(m[1]), true
	}
	ip := strings.TrimSpace(cell.Text())
	return ip, ip != ""
}
