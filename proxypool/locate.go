package manager

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/events"
)

// 免费 geo API 有频率限制，查询并发保持很低
const locateConcurrency = 4

// LocateWorkingSet 查询工作集中每个条目的地理位置，结果写回 Entry.Location。
// 事件流依次包含每条查询的日志与进度，最后是 done 事件；done 的 Functional 为查到位置的条目数。
// 取消 ctx 会停止派发新的查询。
func (m *Manager) LocateWorkingSet(ctx context.Context) (<-chan events.Event, error) {
	m.mu.Lock()
	if m.locating {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.locating = true
	m.mu.Unlock()

	cands := m.set.Candidates("")
	out := make(chan events.Event, 64)
	em := &events.Emitter{
		RunID: uuid.NewString(),
		Out:   out,
		Log:   logger.WithComponent("ProxyPool/Manager"),
	}

	go func() {
		total := len(cands)
		if total == 0 {
			em.Logf("No proxies to locate")
			em.Progress(100)
			m.endLocate()
			em.Done(events.Summary{})
			return
		}
		em.Logf("Locating %d proxies", total)

		var (
			mu        sync.Mutex
			completed int
			located   int
			stopped   bool
		)
		var g errgroup.Group
		g.SetLimit(locateConcurrency)
		for _, c := range cands {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			g.Go(func() error {
				loc := m.validator.Locate(ctx, c.Address)
				if !loc.Known() && ctx.Err() != nil {
					// 被取消的查询不覆盖原有位置
					return nil
				}
				m.set.AnnotateLocation(c.Key(), loc.String())

				mu.Lock()
				defer mu.Unlock()
				completed++
				if loc.Known() {
					located++
				}
				em.Logf("%s: %s", c.HostPort(), loc)
				em.Progress(completed * 100 / total)
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			stopped = true
		}

		em.Logf("Location lookup finished: %d/%d located", located, total)
		m.endLocate()
		em.Done(events.Summary{Total: total, Completed: completed, Functional: located, Stopped: stopped})
	}()
	return out, nil
}

func (m *Manager) endLocate() {
	m.mu.Lock()
	m.locating = false
	m.mu.Unlock()
}
