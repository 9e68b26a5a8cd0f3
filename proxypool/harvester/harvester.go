// Package harvester 依次（或有限并发地）调用代理源，汇总为一批带协议标签的候选。
package harvester

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/events"
	"proxyharvest/proxypool/model"
	"proxyharvest/proxypool/scraper"
)

// Options 控制抓取方式。Parallel 为 false 时按登记顺序逐个抓取。
type Options struct {
	Parallel    bool
	MaxParallel int
}

type Harvester struct {
	registry *scraper.Registry
	opts     Options
}

func New(registry *scraper.Registry, opts Options) *Harvester {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	return &Harvester{registry: registry, opts: opts}
}

// Registry returns the source registry used by this harvester.
func (h *Harvester) Registry() *scraper.Registry { return h.registry }

// Harvest 启动一次抓取。未知的选择器立即返回错误。
// 返回的通道依次产生 log 事件、恰好一个 candidates 事件和一个 done 事件，然后关闭。
// 单个源的失败只记录日志，不影响其他源。
func (h *Harvester) Harvest(ctx context.Context, selector string, kind model.Kind) (<-chan events.Event, error) {
	if !kind.Valid() {
		return nil, model.ErrInvalidKind
	}
	sources, err := h.registry.Select(selector, kind)
	if err != nil {
		return nil, err
	}

	out := make(chan events.Event, 64)
	em := &events.Emitter{
		RunID: uuid.NewString(),
		Out:   out,
		Log:   logger.WithComponent("ProxyPool/Harvester"),
	}

	go func() {
		em.Logf("Harvesting %s proxies from %s (%d sources)", kind, selector, len(sources))

		var perSource [][]model.Endpoint
		if h.opts.Parallel && len(sources) > 1 {
			perSource = h.fetchParallel(ctx, em, sources, kind)
		} else {
			perSource = h.fetchSequential(ctx, em, sources, kind)
		}

		var cands []model.Candidate
		for _, eps := range perSource {
			for _, ep := range eps {
				cands = append(cands, model.Candidate{Address: ep.Address, Port: ep.Port, Kind: kind})
			}
		}
		em.Logf("Harvest finished: %d candidates", len(cands))
		em.Candidates(cands)
		em.Done(events.Summary{Total: len(sources), Completed: len(perSource), Stopped: ctx.Err() != nil})
	}()

	return out, nil
}

// Collect 同步执行 Harvest 并返回候选，丢弃日志事件。
func (h *Harvester) Collect(ctx context.Context, selector string, kind model.Kind) ([]model.Candidate, error) {
	ch, err := h.Harvest(ctx, selector, kind)
	if err != nil {
		return nil, err
	}
	var cands []model.Candidate
	for ev := range ch {
		if ev.Type == events.TypeCandidates {
			cands = ev.Candidates
		}
	}
	return cands, nil
}

func (h *Harvester) fetchSequential(ctx context.Context, em *events.Emitter, sources []scraper.Scraper, kind model.Kind) [][]model.Endpoint {
	out := make([][]model.Endpoint, 0, len(sources))
	for _, s := range sources {
		if ctx.Err() != nil {
			em.Logf("Harvest cancelled before %s", s.Name())
			break
		}
		out = append(out, fetchOne(ctx, em, s, kind))
	}
	return out
}

// fetchParallel 并发抓取，但结果仍按源的顺序汇总。
func (h *Harvester) fetchParallel(ctx context.Context, em *events.Emitter, sources []scraper.Scraper, kind model.Kind) [][]model.Endpoint {
	results := make([][]model.Endpoint, len(sources))
	var mu sync.Mutex // Emitter 的发送需要串行化日志顺序
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.opts.MaxParallel)
	for i, s := range sources {
		g.Go(func() error {
			eps, err := safeFetch(gctx, s, kind)
			mu.Lock()
			defer mu.Unlock()
			results[i] = reportFetch(em, s, eps, err)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func fetchOne(ctx context.Context, em *events.Emitter, s scraper.Scraper, kind model.Kind) []model.Endpoint {
	em.Logf("Fetching from %s...", s.Name())
	eps, err := safeFetch(ctx, s, kind)
	return reportFetch(em, s, eps, err)
}

func reportFetch(em *events.Emitter, s scraper.Scraper, eps []model.Endpoint, err error) []model.Endpoint {
	if err != nil {
		em.Logf("Source %s failed: %v", s.Name(), err)
		return eps
	}
	em.Logf("Source %s returned %d proxies", s.Name(), len(eps))
	return eps
}

// safeFetch 调用代理源，并把 panic 转成错误，保证一个源的问题不会中断整次抓取。
func safeFetch(ctx context.Context, s scraper.Scraper, kind model.Kind) (eps []model.Endpoint, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Fetch(ctx, kind)
}
