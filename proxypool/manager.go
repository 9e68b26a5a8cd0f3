// Package manager 是代理池流水线的上下文：持有工作集与存储句柄，
// 串联抓取、验证与持久化，并在 serve 模式下运行定时任务。
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
	"proxyharvest/proxypool/events"
	"proxyharvest/proxypool/harvester"
	"proxyharvest/proxypool/ingest"
	"proxyharvest/proxypool/model"
	"proxyharvest/proxypool/scraper"
	"proxyharvest/proxypool/storage"
	"proxyharvest/proxypool/validator"
	"proxyharvest/proxypool/workset"
)

// ErrBusy 表示同类任务（抓取或验证）已在进行中。
var ErrBusy = errors.New("pipeline is busy")

// Status 是流水线的当前状态快照。
type Status struct {
	Harvesting bool          `json:"harvesting"`
	Verifying  bool          `json:"verifying"`
	Locating   bool          `json:"locating"`
	WorkSet    workset.Stats `json:"workset"`
	StoreTotal int           `json:"store_total"`
	StoreValid int           `json:"store_valid"`
}

// Manager 是代理池模块的总控制器。
type Manager struct {
	cfg       *types.Config
	set       *workset.Set
	store     *storage.Store
	harvester *harvester.Harvester
	validator *validator.Validator

	mu         sync.Mutex
	harvesting bool
	verifyRun  *validator.Run
	verifying  bool
	locating   bool

	// 调度器与生命周期管理
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewManager 创建并初始化流水线上下文。
func NewManager(cfg *types.Config, store *storage.Store, h *harvester.Harvester, v *validator.Validator) *Manager {
	return &Manager{
		cfg:       cfg,
		set:       workset.New(),
		store:     store,
		harvester: h,
		validator: v,
		stopChan:  make(chan struct{}),
	}
}

func (m *Manager) WorkSet() *workset.Set { return m.set }
func (m *Manager) Store() *storage.Store { return m.store }
func (m *Manager) Validator() *validator.Validator { return m.validator }
func (m *Manager) Sources() *scraper.Registry { return m.harvester.Registry() }
func (m *Manager) Harvester() *harvester.Harvester { return m.harvester }

func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	st := Status{Harvesting: m.harvesting, Verifying: m.verifying, Locating: m.locating}
	m.mu.Unlock()

	st.WorkSet = m.set.Stats()
	total, valid, err := m.store.Count(ctx)
	if err != nil {
		l := logger.WithComponent("ProxyPool/Manager")
		l.Warn().Err(err).Msg("Failed to count stored proxies.")
	}
	st.StoreTotal, st.StoreValid = total, valid
	return st
}

// Harvest 启动一次抓取，候选事件到达时合并进工作集。
// 返回的事件流在原有事件之外附加一条合并统计日志。
func (m *Manager) Harvest(ctx context.Context, selector string, kind model.Kind) (<-chan events.Event, error) {
	m.mu.Lock()
	if m.harvesting {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.harvesting = true
	m.mu.Unlock()

	in, err := m.harvester.Harvest(ctx, selector, kind)
	if err != nil {
		m.endHarvest()
		return nil, err
	}

	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		for ev := range in {
			switch ev.Type {
			case events.TypeCandidates:
				out <- ev
				added := m.set.Merge(ev.Candidates)
				out <- logEvent(ev.RunID, "Added %d new proxies to the working set (%d duplicates skipped)",
					added, len(ev.Candidates)-added)
				continue
			case events.TypeDone:
				m.endHarvest()
			}
			out <- ev
		}
	}()
	return out, nil
}

func (m *Manager) endHarvest() {
	m.mu.Lock()
	m.harvesting = false
	m.mu.Unlock()
}

// ImportLines 解析文本并合并进工作集，返回新增数量与逐行错误。
// 读取中途出错时，出错前解析到的条目仍会合并。
func (m *Manager) ImportLines(r io.Reader, defaultKind model.Kind) (int, []ingest.LineError, error) {
	cands, lineErrs, err := ingest.Parse(r, defaultKind)
	return m.set.Merge(cands), lineErrs, err
}

// ImportFile 从文本文件导入代理到工作集。
func (m *Manager) ImportFile(path string, defaultKind model.Kind) (int, []ingest.LineError, error) {
	cands, lineErrs, err := storage.NewFileStorage(path).Load(defaultKind)
	return m.set.Merge(cands), lineErrs, err
}

// Export 将工作集按 "address:port [kind]" 写出，kind 为空时导出全部。
func (m *Manager) Export(w io.Writer, kind model.Kind) (int, error) {
	cands := m.set.Candidates(kind)
	return len(cands), ingest.Write(w, cands)
}

func (m *Manager) ExportFile(path string, kind model.Kind) (int, error) {
	cands := m.set.Candidates(kind)
	return len(cands), storage.NewFileStorage(path).Save(cands)
}

// ExportStore 导出存储中仍有效的代理。
func (m *Manager) ExportStore(ctx context.Context, w io.Writer, kind model.Kind) (int, error) {
	rows, err := m.store.ListValid(ctx, kind)
	if err != nil {
		return 0, err
	}
	cands := make([]model.Candidate, 0, len(rows))
	for _, p := range rows {
		cands = append(cands, p.Candidate())
	}
	return len(cands), ingest.Write(w, cands)
}

func (m *Manager) beginVerify(ctx context.Context, cands []model.Candidate, opts validator.Options) (*validator.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifying {
		return nil, ErrBusy
	}
	m.verifying = true
	m.verifyRun = m.validator.Start(ctx, cands, opts)
	return m.verifyRun, nil
}

func (m *Manager) endVerify() {
	m.mu.Lock()
	m.verifying = false
	m.verifyRun = nil
	m.mu.Unlock()
}

// StopVerify 请求停止当前验证，没有进行中的验证时返回 false。
func (m *Manager) StopVerify() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifyRun == nil {
		return false
	}
	m.verifyRun.Stop()
	return true
}

// VerifyWorkingSet 验证整个工作集。
// 每个结果都会标注到工作集并覆盖存储中对应 (地址, 端口) 的状态；
// 结束后把可用代理写入存储，并从工作集中剔除无效条目。
func (m *Manager) VerifyWorkingSet(ctx context.Context, opts validator.Options) (<-chan events.Event, error) {
	cands := m.set.Candidates("")
	run, err := m.beginVerify(ctx, cands, opts)
	if err != nil {
		return nil, err
	}
	// 存储写入不随取消中断，已得到的结果总能落盘
	storeCtx := context.WithoutCancel(ctx)
	l := logger.WithComponent("ProxyPool/Manager")

	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		var functional []model.Result
		for ev := range run.Events() {
			switch ev.Type {
			case events.TypeResult:
				res := *ev.Result
				m.set.Annotate(res)
				if _, err := m.store.UpdateStatus(storeCtx, res.Address, res.Port, res.Functional, res.Latency); err != nil {
					l.Warn().Err(err).Str("proxy", res.HostPort()).Msg("Failed to update proxy status.")
				}
				if res.Functional {
					functional = append(functional, res)
				}
			case events.TypeDone:
				inserted := m.persistFunctional(storeCtx, functional)
				stopped := ev.Summary != nil && ev.Summary.Stopped
				removed := m.pruneRun(dispatchedKeys(cands), stopped)
				out <- logEvent(ev.RunID, "Kept %d functional proxies, removed %d, %d new in store",
					len(functional), removed, inserted)
				m.endVerify()
			}
			out <- ev
		}
	}()
	return out, nil
}

func (m *Manager) persistFunctional(ctx context.Context, results []model.Result) int {
	l := logger.WithComponent("ProxyPool/Manager")
	inserted := 0
	for _, r := range results {
		ok, err := m.store.Upsert(ctx, r.Candidate, r.Latency)
		if err != nil {
			l.Warn().Err(err).Str("proxy", r.HostPort()).Msg("Failed to add proxy to store.")
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted
}

// VerifyStore 把存储中的有效代理载入工作集并重新验证；
// 完整跑完后用可用的结果替换整张表。被停止或取消的验证不做替换。
func (m *Manager) VerifyStore(ctx context.Context, opts validator.Options) (<-chan events.Event, error) {
	rows, err := m.store.ListValid(ctx, "")
	if err != nil {
		return nil, err
	}
	cands := make([]model.Candidate, 0, len(rows))
	entries := make([]workset.Entry, 0, len(rows))
	for _, p := range rows {
		cands = append(cands, p.Candidate())
		entries = append(entries, workset.Entry{Candidate: p.Candidate(), Status: workset.StatusUnchecked})
	}

	run, err := m.beginVerify(ctx, cands, opts)
	if err != nil {
		return nil, err
	}
	m.set.Replace(entries)
	storeCtx := context.WithoutCancel(ctx)
	l := logger.WithComponent("ProxyPool/Manager")

	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		out <- logEvent(run.ID(), "Loaded %d proxies from the store", len(rows))
		var results []model.Result
		for ev := range run.Events() {
			switch ev.Type {
			case events.TypeResult:
				m.set.Annotate(*ev.Result)
				results = append(results, *ev.Result)
			case events.TypeDone:
				if ev.Summary != nil && ev.Summary.Stopped {
					m.pruneRun(dispatchedKeys(cands), true)
					out <- logEvent(ev.RunID, "Verification stopped, store left unchanged")
				} else {
					m.pruneRun(dispatchedKeys(cands), false)
					saved, err := m.store.Reconcile(storeCtx, results)
					if err != nil {
						l.Error().Err(err).Msg("Failed to reconcile proxy store.")
						out <- logEvent(ev.RunID, "Failed to reconcile store: %v", err)
					} else {
						out <- logEvent(ev.RunID, "Store reconciled, %d functional proxies saved", saved)
					}
				}
				m.endVerify()
			}
			out <- ev
		}
	}()
	return out, nil
}

func dispatchedKeys(cands []model.Candidate) map[model.Endpoint]struct{} {
	keys := make(map[model.Endpoint]struct{}, len(cands))
	for _, c := range cands {
		keys[c.Key()] = struct{}{}
	}
	return keys
}

// pruneRun 只处理本轮派发过的条目：跑完时剔除未被证实可用的，被停止时只剔除确认无效的。
// 验证期间合并进来的新条目保持不动。
func (m *Manager) pruneRun(dispatched map[model.Endpoint]struct{}, stopped bool) int {
	return m.set.Retain(func(e workset.Entry) bool {
		if _, ok := dispatched[e.Key()]; !ok {
			return true
		}
		if stopped {
			return e.Status != workset.StatusInvalid
		}
		return e.Status == workset.StatusValid
	})
}

// AddToStore 手动添加代理到存储，不做验证。
func (m *Manager) AddToStore(ctx context.Context, cands []model.Candidate) (int, error) {
	inserted := 0
	for _, c := range cands {
		ok, err := m.store.Upsert(ctx, c, 0)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// Drain 读完事件流并返回 done 事件的统计，供不关心中间事件的调用方使用。
func Drain(ch <-chan events.Event) events.Summary {
	var s events.Summary
	for ev := range ch {
		if ev.Type == events.TypeDone && ev.Summary != nil {
			s = *ev.Summary
		}
	}
	return s
}

// logEvent 构造一条日志事件，并与 Emitter 一样同步写入 zerolog。
func logEvent(runID, format string, args ...any) events.Event {
	msg := fmt.Sprintf(format, args...)
	l := logger.WithComponent("ProxyPool/Manager")
	l.Info().Str("run_id", runID).Msg(msg)
	return events.Event{
		Type:    events.TypeLog,
		RunID:   runID,
		Time:    time.Now(),
		Message: msg,
	}
}

// Start 启动定时任务（调度循环）。间隔为 0 的任务不启用。
func (m *Manager) Start() {
	l := logger.WithComponent("ProxyPool/Manager")
	harvestInterval := time.Duration(m.cfg.HarvestIntervalMinutes) * time.Minute
	revalidateInterval := time.Duration(m.cfg.RevalidateIntervalMinutes) * time.Minute
	if harvestInterval <= 0 && revalidateInterval <= 0 {
		l.Info().Msg("No scheduled tasks configured.")
		return
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	l.Info().
		Dur("harvest_interval", harvestInterval).
		Dur("revalidate_interval", revalidateInterval).
		Msg("Schedulers initialized.")

	m.wg.Add(1)
	go m.schedulerLoop(harvestInterval, revalidateInterval)
}

// schedulerLoop 是核心的调度循环，监听 Ticker 和停止信号。
func (m *Manager) schedulerLoop(harvestInterval, revalidateInterval time.Duration) {
	defer m.wg.Done()
	l := logger.WithComponent("ProxyPool/Manager")

	var harvestC, revalidateC <-chan time.Time
	if harvestInterval > 0 {
		t := time.NewTicker(harvestInterval)
		defer t.Stop()
		harvestC = t.C
	}
	if revalidateInterval > 0 {
		t := time.NewTicker(revalidateInterval)
		defer t.Stop()
		revalidateC = t.C
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopChan
		cancel()
	}()

	for {
		select {
		case <-harvestC:
			l.Info().Msg("Harvest ticker triggered.")
			m.runHarvestCycle(ctx)
		case <-revalidateC:
			l.Info().Msg("Revalidation ticker triggered.")
			m.runRevalidationCycle(ctx)
		case <-m.stopChan:
			l.Info().Msg("Stop signal received. Shutting down schedulers.")
			return
		}
	}
}

// runHarvestCycle 执行一个完整的“抓取 -> 验证工作集 -> 存储”周期。
func (m *Manager) runHarvestCycle(ctx context.Context) {
	l := logger.WithComponent("ProxyPool/Manager")
	kind, err := model.ParseKind(m.cfg.ScheduleConf.Kind)
	if err != nil {
		l.Error().Err(err).Msg("Invalid schedule kind, skipping harvest cycle.")
		return
	}
	ch, err := m.Harvest(ctx, m.cfg.ScheduleConf.Source, kind)
	if err != nil {
		l.Warn().Err(err).Msg("Skipping scheduled harvest.")
		return
	}
	Drain(ch)

	ch, err = m.VerifyWorkingSet(ctx, validator.Options{Concurrency: m.cfg.Concurrency, Kind: kind})
	if err != nil {
		l.Warn().Err(err).Msg("Skipping scheduled verification.")
		return
	}
	s := Drain(ch)
	l.Info().Int("functional", s.Functional).Int("checked", s.Completed).Msg("Scheduled harvest cycle finished.")
}

// runRevalidationCycle 重新验证存储中的代理并做整体替换。
func (m *Manager) runRevalidationCycle(ctx context.Context) {
	l := logger.WithComponent("ProxyPool/Manager")
	ch, err := m.VerifyStore(ctx, validator.Options{Concurrency: m.cfg.Concurrency})
	if err != nil {
		l.Warn().Err(err).Msg("Skipping scheduled revalidation.")
		return
	}
	s := Drain(ch)
	l.Info().Int("functional", s.Functional).Int("checked", s.Completed).Msg("Scheduled revalidation finished.")
}

// Stop 优雅地停止管理器的所有后台任务。
func (m *Manager) Stop() {
	m.StopVerify()
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
	logger.Info().Msg("ProxyPool Manager gracefully stopped.")
}
