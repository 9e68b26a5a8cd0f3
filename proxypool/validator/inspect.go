package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/model"
)

const (
	ipEchoTimeout   = 10 * time.Second
	directIPTimeout = 5 * time.Second
	dnsLeakTimeout  = 10 * time.Second
)

// Site 是单代理检测中访问的一个站点。
type Site struct {
	Name    string        `json:"name"`
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

var DefaultSites = []Site{
	{Name: "Baidu", URL: "http://www.baidu.com", Timeout: 5 * time.Second},
	{Name: "Google", URL: "http://www.google.com", Timeout: 10 * time.Second},
	{Name: "YouTube", URL: "http://www.youtube.com", Timeout: 10 * time.Second},
	{Name: "Twitter", URL: "http://www.twitter.com", Timeout: 10 * time.Second},
	{Name: "Facebook", URL: "http://www.facebook.com", Timeout: 10 * time.Second},
}

type Anonymity string

const (
	AnonymityUnknown     Anonymity = "unknown"
	AnonymityAnonymous   Anonymity = "anonymous"   // 出口 IP 与本机不同
	AnonymityTransparent Anonymity = "transparent" // 出口 IP 与本机相同
)

type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingFair      Rating = "fair"
	RatingPoor      Rating = "poor"
)

// RateSuccess 按成功率 (0-100) 给出评级。
func RateSuccess(rate float64) Rating {
	switch {
	case rate >= 80:
		return RatingExcellent
	case rate >= 60:
		return RatingGood
	case rate >= 40:
		return RatingFair
	default:
		return RatingPoor
	}
}

type SiteResult struct {
	Site
	OK      bool          `json:"ok"`
	Status  int           `json:"status,omitempty"`
	Latency time.Duration `json:"latency,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Report 是单代理检测的完整结果。
type Report struct {
	Candidate   model.Candidate `json:"candidate"`
	ProxyIP     string          `json:"proxy_ip,omitempty"`
	DirectIP    string          `json:"direct_ip,omitempty"`
	Anonymity   Anonymity       `json:"anonymity"`
	DNSLeakOK   bool            `json:"dns_leak_ok"`
	Sites       []SiteResult    `json:"sites"`
	SuccessRate float64         `json:"success_rate"`
	Rating      Rating          `json:"rating"`
}

func (r *Report) Successes() int {
	n := 0
	for _, s := range r.Sites {
		if s.OK {
			n++
		}
	}
	return n
}

// Inspect 对单个代理做深度检测：出口 IP 匿名性、DNS 泄露检测端点、逐站点访问与评级。
// 只有无法构造代理客户端时返回 error，各步骤的失败体现在报告中。
func (v *Validator) Inspect(ctx context.Context, c model.Candidate) (*Report, error) {
	l := logger.WithComponent("ProxyPool/Validator")
	client, err := newProxyClient(c, ipEchoTimeout)
	if err != nil {
		return nil, err
	}
	defer client.CloseIdleConnections()

	report := &Report{Candidate: c, Anonymity: AnonymityUnknown}
	l.Info().Str("proxy", c.String()).Msg("Inspecting proxy...")

	if ip, err := v.echoIP(ctx, client, ipEchoTimeout); err != nil {
		l.Debug().Err(err).Msg("Exit IP check through proxy failed.")
	} else {
		report.ProxyIP = ip
		if direct, err := v.echoIP(ctx, v.geoClient, directIPTimeout); err != nil {
			l.Debug().Err(err).Msg("Direct IP check failed.")
		} else {
			report.DirectIP = direct
			if direct == ip {
				report.Anonymity = AnonymityTransparent
			} else {
				report.Anonymity = AnonymityAnonymous
			}
		}
	}

	if status, err := fetchStatus(ctx, client, v.cfg.DNSLeakURL, dnsLeakTimeout); err == nil && status == http.StatusOK {
		report.DNSLeakOK = true
	}

	for _, site := range v.cfg.Sites {
		if ctx.Err() != nil {
			break
		}
		report.Sites = append(report.Sites, checkSite(ctx, client, site))
	}

	if len(v.cfg.Sites) > 0 {
		report.SuccessRate = float64(report.Successes()) * 100 / float64(len(v.cfg.Sites))
	}
	report.Rating = RateSuccess(report.SuccessRate)

	l.Info().
		Str("proxy", c.String()).
		Str("anonymity", string(report.Anonymity)).
		Float64("success_rate", report.SuccessRate).
		Str("rating", string(report.Rating)).
		Msg("Inspection finished.")
	return report, nil
}

func checkSite(ctx context.Context, client *http.Client, site Site) SiteResult {
	timeout := site.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	res := SiteResult{Site: site}
	start := time.Now()
	status, err := fetchStatus(ctx, client, site.URL, timeout)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Status = status
	res.Latency = time.Since(start)
	res.OK = status == http.StatusOK
	return res
}

// echoIP 请求 IP 回显服务，返回 {"ip": "..."} 中的地址。
func (v *Validator) echoIP(ctx context.Context, client *http.Client, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, v.cfg.IPEchoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip echo returned status %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDrainBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode ip echo response: %w", err)
	}
	if body.IP == "" {
		return "", fmt.Errorf("ip echo response has no ip")
	}
	return body.IP, nil
}
