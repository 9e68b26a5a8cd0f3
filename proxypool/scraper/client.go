package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/corpix/uarand"
	utls "github.com/refraction-networking/utls"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 8 << 20
)

// ClientOptions 配置所有代理源共用的直连客户端。
type ClientOptions struct {
	Timeout        time.Duration
	TLSFingerprint string // "" 使用 Go 默认 TLS；"chrome" 模拟 Chrome 的 ClientHello
	UserAgent      string // 为空时每个请求随机选择桌面浏览器 UA
}

// Client 是代理源使用的 HTTP 客户端。它从不使用环境变量中的代理。
type Client struct {
	http      *http.Client
	transport *http.Transport
	timeout   time.Duration
	userAgent string
}

// NewDirectClient 创建直连客户端：Transport.Proxy 为 nil，超时默认 15 秒。
func NewDirectClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.Timeout,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
	if strings.EqualFold(opts.TLSFingerprint, "chrome") {
		transport.DialTLSContext = chromeTLSDialer(dialer)
	}
	return &Client{
		http:      &http.Client{Transport: transport, Timeout: opts.Timeout},
		transport: transport,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
	}
}

// Transport exposes the underlying round tripper so colly collectors share it.
func (c *Client) Transport() http.RoundTripper { return c.transport }

func (c *Client) Timeout() time.Duration { return c.timeout }

// UserAgent 返回本次请求使用的 User-Agent。
func (c *Client) UserAgent() string {
	if c.userAgent != "" {
		return c.userAgent
	}
	return uarand.GetRandom()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.UserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Cache-Control", "max-age=0")
}

// Get 请求 url 并返回响应体。非 200 状态码视为失败。
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	return body, nil
}

// Document 请求 url 并解析为 goquery 文档。
func (c *Client) Document(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML from %s: %w", url, err)
	}
	return doc, nil
}

// chromeTLSDialer 使用 utls 模拟 Chrome 的 TLS 指纹。ALPN 固定为 http/1.1，
// 因为自定义 DialTLSContext 的连接只能走 HTTP/1.1。
func chromeTLSDialer(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		raw, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("failed to build chrome hello: %w", err)
		}
		for _, ext := range spec.Extensions {
			if alpn, ok := ext.(*utls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
			}
		}

		conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
		if err := conn.ApplyPreset(&spec); err != nil {
			raw.Close()
			return nil, fmt.Errorf("failed to apply chrome hello: %w", err)
		}
		if err := conn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls handshake with %s failed: %w", host, err)
		}
		return conn, nil
	}
}
