package scraper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"proxyharvest/proxypool/model"
)

var base64ProxyRe = regexp.MustCompile(`Proxy\('(.+?)'\)`)

// ProxyListOrgScraper 抓取 proxy-list.org。每个代理以 Proxy('base64') 的形式写在内联脚本中。
type ProxyListOrgScraper struct {
	client *Client
	url    string
}

func NewProxyListOrgScraper(client *Client) *ProxyListOrgScraper {
	return &ProxyListOrgScraper{client: client, url: "https://proxy-list.org/english/index.php"}
}

func (s *ProxyListOrgScraper) Name() string { return "proxy-list-org" }

func (s *ProxyListOrgScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	doc, err := s.client.Document(ctx, s.url)
	if err != nil {
		return nil, err
	}
	var out []model.Endpoint
	doc.Find("div.table-wrap ul li.proxy").Each(func(_ int, sel *goquery.Selection) {
		m := base64ProxyRe.FindStringSubmatch(sel.Find("script").Text())
		if m == nil {
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return
		}
		ep, err := model.ParseHostPort(string(decoded))
		if err != nil {
			return
		}
		out = append(out, ep)
	})
	return out, nil
}

// ProxyDailyScraper 抓取 proxy-daily.com，代理以文本块的形式放在 div.centeredProxyList 中。
type ProxyDailyScraper struct {
	client *Client
	url    string
}

func NewProxyDailyScraper(client *Client) *ProxyDailyScraper {
	return &ProxyDailyScraper{client: client, url: "https://proxy-daily.com/"}
}

func (s *ProxyDailyScraper) Name() string { return "proxy-daily" }

func (s *ProxyDailyScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	doc, err := s.client.Document(ctx, s.url)
	if err != nil {
		return nil, err
	}
	var out []model.Endpoint
	doc.Find("div.centeredProxyList").Each(func(_ int, sel *goquery.Selection) {
		out = append(out, parseTextList(sel.Text())...)
	})
	return out, nil
}

// GeonodeScraper 调用 geonode 的 JSON 接口，按协议过滤。
type GeonodeScraper struct {
	client  *Client
	baseURL string
}

func NewGeonodeScraper(client *Client) *GeonodeScraper {
	return &GeonodeScraper{client: client, baseURL: "https://proxylist.geonode.com/api/proxy-list"}
}

func (s *GeonodeScraper) Name() string { return "geonode" }

type geonodeResponse struct {
	Data []struct {
		IP   string          `json:"ip"`
		Port json.RawMessage `json:"port"` // 接口里有时是字符串，有时是数字
	} `json:"data"`
}

func (s *GeonodeScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	url := fmt.Sprintf("%s?limit=500&page=1&sort_by=lastChecked&sort_type=desc&filterUpTime=90&protocols=%s", s.baseURL, kind)
	body, err := s.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	var resp geonodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("geonode: failed to decode response: %w", err)
	}
	out := make([]model.Endpoint, 0, len(resp.Data))
	for _, d := range resp.Data {
		ep, err := model.ParseEndpoint(d.IP, rawPort(d.Port))
		if err != nil {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}

func rawPort(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}
