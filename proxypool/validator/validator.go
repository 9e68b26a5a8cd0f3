// Package validator 实现验证池：以有限并发对候选代理执行一组目标站点的访问测试。
package validator

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/events"
	"proxyharvest/proxypool/model"
)

const (
	MaxConcurrency          = 50
	defaultConcurrency      = 10
	defaultProbeTimeout     = 5 * time.Second
	defaultSuccessThreshold = 2
	geoAPITimeout           = 5 * time.Second
)

// DefaultTargets 是默认的验证目标组。
var DefaultTargets = []string{
	"http://www.baidu.com",
	"http://www.qq.com",
	"http://www.163.com",
	"http://www.sohu.com",
	"http://www.sina.com.cn",
}

// Config 是验证器的静态配置。零值字段使用默认值。
type Config struct {
	Targets          []string
	ProbeTimeout     time.Duration
	SuccessThreshold int

	// 以下仅用于单代理检测与地理位置查询
	IPEchoURL  string
	DNSLeakURL string
	GeoAPIURL  string
	Sites      []Site
}

func (c Config) withDefaults() Config {
	if len(c.Targets) == 0 {
		c.Targets = append([]string(nil), DefaultTargets...)
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaultSuccessThreshold
	}
	if c.IPEchoURL == "" {
		c.IPEchoURL = "https://api.ipify.org?format=json"
	}
	if c.DNSLeakURL == "" {
		c.DNSLeakURL = "https://www.dnsleaktest.com/json/dnsid.json"
	}
	if c.GeoAPIURL == "" {
		c.GeoAPIURL = "http://ip-api.com/json/"
	}
	if len(c.Sites) == 0 {
		c.Sites = append([]Site(nil), DefaultSites...)
	}
	return c
}

// Options 控制单次验证。Kind 为空时沿用每个候选自身的协议。
type Options struct {
	Concurrency int
	Kind        model.Kind
}

type Validator struct {
	cfg       Config
	prober    Prober
	geoClient *http.Client // 直连，用于地理位置与本机出口 IP 查询
}

func NewValidator(cfg Config) *Validator {
	cfg = cfg.withDefaults()
	return &Validator{
		cfg:    cfg,
		prober: &BatteryProber{Targets: cfg.Targets, Timeout: cfg.ProbeTimeout},
		geoClient: &http.Client{
			Timeout: geoAPITimeout,
			// 不读 HTTP_PROXY 等环境变量，保证查到的是本机直连出口
			Transport: &http.Transport{Proxy: nil},
		},
	}
}

// WithProber 替换探测实现，主要用于测试。
func (v *Validator) WithProber(p Prober) *Validator {
	v.prober = p
	return v
}

func (v *Validator) Config() Config { return v.cfg }

// Check 同步验证单个候选。成功数达到阈值即视为可用；
// 此时 Latency 为整组测试的耗时，否则为 0。
func (v *Validator) Check(ctx context.Context, c model.Candidate) model.Result {
	start := time.Now()
	n, err := v.prober.Probe(ctx, c)
	res := model.Result{Candidate: c, Successes: n, CheckedAt: time.Now()}
	if err != nil {
		l := logger.WithComponent("ProxyPool/Validator")
		l.Debug().Err(err).Str("proxy", c.HostPort()).Msg("Probe setup failed.")
		res.Successes = 0
		return res
	}
	if n >= v.cfg.SuccessThreshold {
		res.Functional = true
		res.Latency = time.Since(start)
	}
	return res
}

// Run 是一次正在进行的验证。
type Run struct {
	id      string
	events  <-chan events.Event
	stopped atomic.Bool
}

func (r *Run) ID() string { return r.id }

// Events 返回事件流。调用方必须读到通道关闭为止。
func (r *Run) Events() <-chan events.Event { return r.events }

// Stop 请求停止：不再派发新的候选，已在进行的探测会完成并上报结果。
func (r *Run) Stop() { r.stopped.Store(true) }

func (r *Run) Stopped() bool { return r.stopped.Load() }

// Start 异步验证 cands。取消 ctx 与调用 Run.Stop 效果相同。
func (v *Validator) Start(ctx context.Context, cands []model.Candidate, opts Options) *Run {
	out := make(chan events.Event, 64)
	r := &Run{id: uuid.NewString(), events: out}
	em := &events.Emitter{
		RunID: r.id,
		Out:   out,
		Log:   logger.WithComponent("ProxyPool/Validator"),
	}
	go v.run(ctx, r, em, cands, opts)
	return r
}

// Run 同步执行一次验证，返回全部结果。
func (v *Validator) Run(ctx context.Context, cands []model.Candidate, opts Options) []model.Result {
	r := v.Start(ctx, cands, opts)
	var results []model.Result
	for ev := range r.Events() {
		if ev.Type == events.TypeResult && ev.Result != nil {
			results = append(results, *ev.Result)
		}
	}
	return results
}

func clampConcurrency(n, total int) int {
	if n <= 0 {
		n = defaultConcurrency
	}
	if n > MaxConcurrency {
		n = MaxConcurrency
	}
	if n > total {
		n = total
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (v *Validator) run(ctx context.Context, r *Run, em *events.Emitter, cands []model.Candidate, opts Options) {
	total := len(cands)
	if total == 0 {
		em.Logf("No candidates to verify")
		em.Progress(100)
		em.Done(events.Summary{})
		return
	}

	workers := clampConcurrency(opts.Concurrency, total)
	em.Logf("Verifying %d candidates with %d workers", total, workers)

	sem := semaphore.NewWeighted(int64(workers))
	// 已派发的探测不受取消影响，保证它们都能上报结果
	probeCtx := context.WithoutCancel(ctx)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		completed  int
		functional int
		stopped    bool
	)

	for _, c := range cands {
		if r.Stopped() || ctx.Err() != nil {
			stopped = true
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			stopped = true
			break
		}
		if r.Stopped() {
			sem.Release(1)
			stopped = true
			break
		}
		if opts.Kind != "" {
			c.Kind = opts.Kind
		}

		wg.Add(1)
		go func(c model.Candidate) {
			defer wg.Done()
			defer sem.Release(1)

			res := v.Check(probeCtx, c)

			mu.Lock()
			defer mu.Unlock()
			completed++
			if res.Functional {
				functional++
			}
			em.Result(res)
			em.Progress(completed * 100 / total)
		}(c)
	}
	wg.Wait()

	if stopped {
		em.Logf("Verification stopped: %d/%d checked, %d functional", completed, total, functional)
	} else {
		em.Logf("Verification finished: %d/%d functional", functional, total)
	}
	em.Done(events.Summary{Total: total, Completed: completed, Functional: functional, Stopped: stopped})
}
