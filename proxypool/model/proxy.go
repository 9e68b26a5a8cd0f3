package model

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Kind 是代理协议类型。存储与导出时一律使用小写形式。
type Kind string

const (
	KindSOCKS5 Kind = "socks5"
	KindHTTP   Kind = "http"
)

var ErrInvalidKind = errors.New("invalid proxy kind")

// Kinds 返回所有受支持的协议类型。
func Kinds() []Kind {
	return []Kind{KindSOCKS5, KindHTTP}
}

// ParseKind 不区分大小写地解析协议名。
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSOCKS5:
		return KindSOCKS5, nil
	case KindHTTP:
		return KindHTTP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

func (k Kind) Valid() bool {
	return k == KindSOCKS5 || k == KindHTTP
}

func (k Kind) String() string { return string(k) }

// Endpoint 是代理源返回的 (地址, 端口) 对，尚未附带协议。
type Endpoint struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(int(e.Port)))
}

// ParseEndpoint 校验地址与端口字符串。端口必须是 1-65535 的整数。
func ParseEndpoint(address, port string) (Endpoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Endpoint{}, errors.New("empty address")
	}
	p, err := strconv.ParseUint(strings.TrimSpace(port), 10, 16)
	if err != nil || p == 0 {
		return Endpoint{}, fmt.Errorf("invalid port %q", port)
	}
	return Endpoint{Address: address, Port: uint16(p)}, nil
}

// ParseHostPort 解析 "ip:port" 形式的字符串。
func ParseHostPort(s string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Endpoint{}, err
	}
	return ParseEndpoint(host, port)
}

// Candidate 是带有协议标签的待验证代理。
// 工作集中以 (Address, Port) 作为唯一键，协议不参与去重。
type Candidate struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Kind    Kind   `json:"kind"`
}

// Key 返回用于去重的 (地址, 端口) 键。
func (c Candidate) Key() Endpoint {
	return Endpoint{Address: c.Address, Port: c.Port}
}

func (c Candidate) HostPort() string {
	return c.Key().String()
}

// String 返回导出格式 "address:port [kind]"。
func (c Candidate) String() string {
	return fmt.Sprintf("%s [%s]", c.HostPort(), c.Kind)
}

// Result 是一次验证的结果。每一轮验证中每个候选只产生一个 Result。
type Result struct {
	Candidate
	Functional bool          `json:"functional"`
	Latency    time.Duration `json:"latency"` // 整组测试的耗时，不可用时为 0
	Successes  int           `json:"successes"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// StoredProxy 对应 proxies 表中的一行。
type StoredProxy struct {
	ID           int64          `json:"id"`
	Address      string         `json:"address"`
	Port         uint16         `json:"port"`
	Kind         Kind           `json:"kind"`
	ResponseTime *time.Duration `json:"response_time,omitempty"` // NULL 表示从未测过
	LastChecked  time.Time      `json:"last_checked"`
	Valid        bool           `json:"valid"`
}

// Candidate 将存储记录转换为候选，用于重新验证。
func (p StoredProxy) Candidate() Candidate {
	return Candidate{Address: p.Address, Port: p.Port, Kind: p.Kind}
}
