package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/model"
)

// tableSpec 描述一个以 HTML 表格发布代理的网站。
type tableSpec struct {
	name     string
	url      func(kind model.Kind) string
	rows     string // 行选择器
	cell     string // 单元格标签，默认 "td"
	skip     int    // 跳过的表头行数
	minCells int
	addrCol  int
	portCol  int // < 0 表示 addrCol 中是 "ip:port"
	accept   func(cells *goquery.Selection, kind model.Kind) bool
	kinds    onlyKinds
}

// TableScraper 实现了 Scraper 接口，用 goquery 解析 HTML 表格。
type TableScraper struct {
	spec   tableSpec
	client *Client
}

func newTableScraper(spec tableSpec, client *Client) *TableScraper {
	if spec.cell == "" {
		spec.cell = "td"
	}
	if spec.minCells == 0 {
		spec.minCells = 2
	}
	return &TableScraper{spec: spec, client: client}
}

func (s *TableScraper) Name() string { return s.spec.name }

func (s *TableScraper) Supports(kind model.Kind) bool { return s.spec.kinds.Supports(kind) }

// Fetch 执行抓取操作。
func (s *TableScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	url := s.spec.url(kind)
	doc, err := s.client.Document(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.parse(doc, kind), nil
}

func (s *TableScraper) parse(doc *goquery.Document, kind model.Kind) []model.Endpoint {
	l := logger.WithComponent("ProxyPool/Scraper")
	var out []model.Endpoint
	skipped := 0

	doc.Find(s.spec.rows).Each(func(i int, sel *goquery.Selection) {
		if i < s.spec.skip {
			return
		}
		cells := sel.Find(s.spec.cell)
		if cells.Length() < s.spec.minCells {
			return
		}
		if s.spec.accept != nil && !s.spec.accept(cells, kind) {
			return
		}

		addr := strings.TrimSpace(cells.Eq(s.spec.addrCol).Text())
		var (
			ep  model.Endpoint
			err error
		)
		if s.spec.portCol < 0 {
			ep, err = model.ParseHostPort(addr)
		} else {
			ep, err = model.ParseEndpoint(addr, cells.Eq(s.spec.portCol).Text())
		}
		if err != nil {
			skipped++
			return
		}
		out = append(out, ep)
	})

	if skipped > 0 {
		l.Debug().Str("source", s.Name()).Int("skipped", skipped).Msg("Skipped unparsable rows.")
	}
	return out
}

// columnEquals 返回一个 accept 函数：第 col 列（忽略大小写）等于 want。
func columnEquals(col int, want string) func(*goquery.Selection, model.Kind) bool {
	return func(cells *goquery.Selection, _ model.Kind) bool {
		return strings.EqualFold(strings.TrimSpace(cells.Eq(col).Text()), want)
	}
}

// columnMatchesKind 要求第 col 列的协议与请求的协议相同。
func columnMatchesKind(col int) func(*goquery.Selection, model.Kind) bool {
	return func(cells *goquery.Selection, kind model.Kind) bool {
		return strings.EqualFold(strings.TrimSpace(cells.Eq(col).Text()), string(kind))
	}
}

// columnContains 要求第 col 列包含 substr（忽略大小写）。
func columnContains(col int, substr string) func(*goquery.Selection, model.Kind) bool {
	return func(cells *goquery.Selection, _ model.Kind) bool {
		return strings.Contains(strings.ToUpper(cells.Eq(col).Text()), strings.ToUpper(substr))
	}
}
