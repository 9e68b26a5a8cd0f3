package scraper

import (
	"fmt"

	"proxyharvest/proxypool/model"
)

// textSource 描述一个纯文本列表源。
type textSource struct {
	name  string
	url   func(model.Kind) string
	kinds onlyKinds
}

func builtinTableSpecs() []tableSpec {
	return []tableSpec{
		{name: "freeproxy", url: fixedURL("https://www.freeproxy.world/"),
			rows: "table.layui-table tbody tr", addrCol: 0, portCol: 1},
		{name: "proxydb", url: fixedURL("http://proxydb.net/"),
			rows: "table.table tbody tr", minCells: 1, addrCol: 0, portCol: -1},
		{name: "openproxy", url: fixedURL("https://openproxy.space/list"),
			rows: "table.table tbody tr", addrCol: 0, portCol: 1},
		{name: "premproxy", url: fixedURL("https://premproxy.com/proxy-by-country/"),
			rows: "table#proxylist tbody tr", addrCol: 0, portCol: -1},
		{name: "proxylistplus", url: fixedURL("https://list.proxylistplus.com/Fresh-HTTP-Proxy-List-1"),
			rows: "table.bg tr.cells", minCells: 3, addrCol: 1, portCol: 2},
		// 只收录支持 HTTPS 的条目；聚合模式下仅用于 HTTP
		{name: "free-proxy-list", url: fixedURL("https://free-proxy-list.net/"),
			rows: "table#proxylisttable tbody tr", minCells: 8, addrCol: 0, portCol: 1,
			accept: columnEquals(6, "yes"), kinds: onlyKinds{model.KindHTTP}},
		{name: "hidemyass", url: fixedURL("https://proxylist.hidemyass-freeproxy.com/proxy-list/"),
			rows: "table.hma-table tbody tr", minCells: 7, addrCol: 0, portCol: 1,
			accept: columnMatchesKind(6)},
		{name: "spys.one", url: fixedURL("http://spys.one/free-proxy-list/"),
			rows: "table.spy1x tr", skip: 2, minCells: 1, addrCol: 0, portCol: -1},
		{name: "cool-proxy", url: fixedURL("https://cool-proxy.net/"),
			rows: "table#proxy_list tr", skip: 1, addrCol: 0, portCol: 1},
		{name: "proxyranker", url: fixedURL("https://proxyranker.com/"),
			rows: "table.table tr", skip: 1, addrCol: 0, portCol: 1},
		{name: "ip3366", url: fixedURL("http://www.ip3366.net/?stype=1&page=1"),
			rows: "table.table-bordered tbody tr", minCells: 4, addrCol: 0, portCol: 1,
			accept: columnContains(3, "HTTP"), kinds: onlyKinds{model.KindHTTP}},
		// NOTE: qiyunip 的数据单元格是 <th>
		{name: "qiyunip", url: fixedURL("https://www.qiyunip.com/freeProxy/1.html"),
			rows: "table#proxyTable tbody tr", cell: "th", minCells: 4, addrCol: 0, portCol: 1,
			accept: columnContains(3, "HTTP"), kinds: onlyKinds{model.KindHTTP}},
	}
}

func builtinTextSources() []textSource {
	return []textSource{
		{name: "proxyscrape", url: func(k model.Kind) string {
			return fmt.Sprintf("https://api.proxyscrape.com/v2/?request=getproxies&protocol=%s&timeout=10000&country=all", k)
		}},
		{name: "freedom", url: perKindURL(map[model.Kind]string{
			model.KindHTTP:   "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
			model.KindSOCKS5: "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks5.txt",
		})},
		{name: "proxpn", url: fixedURL("https://api.proxyscrape.com/?request=displayproxies&proxytype=all&country=all&anonymity=all&ssl=all&timeout=10000")},
		{name: "storm", url: perKindURL(map[model.Kind]string{
			model.KindHTTP:   "https://www.proxy-list.download/api/v1/get?type=http",
			model.KindSOCKS5: "https://raw.githubusercontent.com/hookzof/socks5_list/master/proxy.txt",
		})},
		{name: "proxy-list.download", url: func(k model.Kind) string {
			return fmt.Sprintf("https://www.proxy-list.download/api/v1/get?type=%s", k)
		}},
	}
}

// NewDefaultRegistry 按固定顺序登记所有内置代理源。
func NewDefaultRegistry(client *Client) *Registry {
	tables := make(map[string]tableSpec)
	for _, spec := range builtinTableSpecs() {
		tables[spec.name] = spec
	}
	texts := make(map[string]textSource)
	for _, src := range builtinTextSources() {
		texts[src.name] = src
	}

	order := []string{
		"proxy-list-org", "proxynova", "freeproxy", "proxydb", "openproxy", "premproxy",
		"proxylistplus", "free-proxy-list", "geonode", "proxyscrape", "freedom", "hidemyass",
		"proxpn", "storm", "spys.one", "proxy-daily", "cool-proxy", "proxy-list.download",
		"proxyranker", "kuaidaili", "ip3366", "qiyunip",
	}

	r := NewRegistry()
	for _, name := range order {
		var s Scraper
		switch name {
		case "proxy-list-org":
			s = NewProxyListOrgScraper(client)
		case "proxynova":
			s = NewProxynovaScraper(client)
		case "geonode":
			s = NewGeonodeScraper(client)
		case "proxy-daily":
			s = NewProxyDailyScraper(client)
		case "kuaidaili":
			s = NewKuaidailiScraper(client)
		default:
			if spec, ok := tables[name]; ok {
				s = newTableScraper(spec, client)
			} else if src, ok := texts[name]; ok {
				s = newTextScraper(src.name, src.url, src.kinds, client)
			}
		}
		if s == nil {
			panic("scraper: no implementation for builtin source " + name)
		}
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}
