package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"proxyharvest/proxypool/model"
)

// AllSources 是聚合选择器：按注册顺序依次使用所有代理源。
const AllSources = "all-sources"

var ErrUnknownSource = errors.New("unknown proxy source")

// Scraper 定义了所有代理源必须实现的接口。
// Fetch 只对整体失败（请求失败、页面无法解析）返回错误；单行解析失败直接跳过。
type Scraper interface {
	Name() string
	Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error)
}

// KindFilter 由只提供部分协议的代理源实现。聚合模式下会跳过不支持当前协议的源；
// 单独选择该源时仍然会调用它。
type KindFilter interface {
	Supports(kind model.Kind) bool
}

// Registry 按名称登记代理源，并保持登记顺序。
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Scraper
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Scraper)}
}

// Register 登记一个代理源，名称重复时返回错误。
func (r *Registry) Register(s Scraper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if name == AllSources {
		return fmt.Errorf("source name %q is reserved", name)
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("source %q already registered", name)
	}
	r.byName[name] = s
	r.order = append(r.order, name)
	return nil
}

// Names 按登记顺序返回所有源名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SortedNames is Names in lexical order, for display.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

func (r *Registry) Get(name string) (Scraper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Select 解析源选择器。AllSources 返回所有支持 kind 的源，否则返回单个指定的源。
func (r *Registry) Select(selector string, kind model.Kind) ([]Scraper, error) {
	if selector != AllSources {
		s, ok := r.Get(selector)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, selector)
		}
		return []Scraper{s}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scraper, 0, len(r.order))
	for _, name := range r.order {
		s := r.byName[name]
		if f, ok := s.(KindFilter); ok && !f.Supports(kind) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// onlyKinds 实现 KindFilter。
type onlyKinds []model.Kind

func (o onlyKinds) Supports(kind model.Kind) bool {
	if len(o) == 0 {
		return true
	}
	for _, k := range o {
		if k == kind {
			return true
		}
	}
	return false
}
