package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"proxyharvest/proxypool/model"
)

// 每个目标最多读取的响应体字节数
const maxDrainBytes = 64 << 10

// Prober 对单个候选执行一组探测，返回成功的目标数。
// 只有无法建立代理客户端这类设置错误才返回 error。
type Prober interface {
	Probe(ctx context.Context, c model.Candidate) (int, error)
}

// BatteryProber 通过候选代理依次请求 Targets，每个请求单独计时。
type BatteryProber struct {
	Targets []string
	Timeout time.Duration
}

func (b *BatteryProber) Probe(ctx context.Context, c model.Candidate) (int, error) {
	client, err := newProxyClient(c, b.Timeout)
	if err != nil {
		return 0, err
	}
	defer client.CloseIdleConnections()

	successes := 0
	for _, target := range b.Targets {
		if ctx.Err() != nil {
			break
		}
		if status, err := fetchStatus(ctx, client, target, b.Timeout); err == nil && status >= 200 && status < 300 {
			successes++
		}
	}
	return successes, nil
}

// fetchStatus 发送 GET 并返回状态码，响应体最多读取 maxDrainBytes。
func fetchStatus(ctx context.Context, client *http.Client, target string, timeout time.Duration) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, nil
}

// newProxyClient 构造一个以 c 为前置代理的 http.Client，协议取 c.Kind。
func newProxyClient(c model.Candidate, timeout time.Duration) (*http.Client, error) {
	if c.Address == "" || c.Port == 0 {
		return nil, fmt.Errorf("invalid proxy address %q", c.HostPort())
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch c.Kind {
	case model.KindHTTP:
		proxyURL := &url.URL{Scheme: "http", Host: c.HostPort()}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.DialContext = dialer.DialContext
	case model.KindSOCKS5:
		d, err := proxy.SOCKS5("tcp", c.HostPort(), nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("SOCKS5 dialer does not support contexts")
		}
		transport.Proxy = nil
		transport.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidKind, c.Kind)
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
