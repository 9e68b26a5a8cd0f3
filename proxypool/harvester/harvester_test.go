package harvester

import (
	"context"
	"errors"
	"testing"

	"proxyharvest/proxypool/events"
	"proxyharvest/proxypool/model"
	"proxyharvest/proxypool/scraper"
)

// mockScraper is a test double for scraper.Scraper.
type mockScraper struct {
	name   string
	eps    []model.Endpoint
	err    error
	panics bool
	kinds  []model.Kind
	calls  int
}

func (m *mockScraper) Name() string { return m.name }

func (m *mockScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	m.calls++
	if m.panics {
		panic("boom")
	}
	return m.eps, m.err
}

type httpOnlyScraper struct{ mockScraper }

func (h *httpOnlyScraper) Supports(kind model.Kind) bool { return kind == model.KindHTTP }

func newRegistry(t *testing.T, scrapers ...scraper.Scraper) *scraper.Registry {
	t.Helper()
	r := scraper.NewRegistry()
	for _, s := range scrapers {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register() returned an error: %v", err)
		}
	}
	return r
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestHarvestTagsKindAndSurvivesFailures(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		a := &mockScraper{name: "a", eps: []model.Endpoint{{Address: "1.1.1.1", Port: 80}}}
		b := &mockScraper{name: "b", err: errors.New("network down")}
		c := &mockScraper{name: "c", panics: true}
		d := &mockScraper{name: "d", eps: []model.Endpoint{{Address: "2.2.2.2", Port: 1080}, {Address: "1.1.1.1", Port: 80}}}
		h := New(newRegistry(t, a, b, c, d), Options{Parallel: parallel, MaxParallel: 2})

		ch, err := h.Harvest(context.Background(), scraper.AllSources, model.KindSOCKS5)
		if err != nil {
			t.Fatalf("Harvest() returned an error: %v", err)
		}
		evs := drain(ch)

		var batches [][]model.Candidate
		dones := 0
		logs := 0
		for _, ev := range evs {
			switch ev.Type {
			case events.TypeCandidates:
				batches = append(batches, ev.Candidates)
			case events.TypeDone:
				dones++
			case events.TypeLog:
				logs++
			}
		}
		if len(batches) != 1 {
			t.Fatalf("parallel=%v: expected exactly one candidates event, got %d", parallel, len(batches))
		}
		if dones != 1 || evs[len(evs)-1].Type != events.TypeDone {
			t.Fatalf("parallel=%v: expected a single trailing done event", parallel)
		}
		if logs == 0 {
			t.Errorf("parallel=%v: expected log events", parallel)
		}

		got := batches[0]
		// duplicates are kept here; deduplication happens in the working set
		if len(got) != 3 {
			t.Fatalf("parallel=%v: expected 3 candidates, got %d", parallel, len(got))
		}
		if got[0].Address != "1.1.1.1" || got[1].Address != "2.2.2.2" {
			t.Errorf("parallel=%v: candidates not in source order: %+v", parallel, got)
		}
		for _, c := range got {
			if c.Kind != model.KindSOCKS5 {
				t.Errorf("parallel=%v: candidate %s not tagged socks5", parallel, c.HostPort())
			}
		}
	}
}

func TestHarvestSkipsUnsupportedSourcesInAggregate(t *testing.T) {
	general := &mockScraper{name: "general"}
	onlyHTTP := &httpOnlyScraper{mockScraper{name: "only-http"}}
	h := New(newRegistry(t, general, onlyHTTP), Options{})

	if _, err := h.Collect(context.Background(), scraper.AllSources, model.KindSOCKS5); err != nil {
		t.Fatalf("Collect() returned an error: %v", err)
	}
	if onlyHTTP.calls != 0 {
		t.Errorf("http-only source should be skipped for socks5")
	}

	if _, err := h.Collect(context.Background(), "only-http", model.KindSOCKS5); err != nil {
		t.Fatalf("Collect() returned an error: %v", err)
	}
	if onlyHTTP.calls != 1 {
		t.Errorf("directly selected source should always run, calls=%d", onlyHTTP.calls)
	}
}

func TestHarvestUnknownSelector(t *testing.T) {
	h := New(newRegistry(t), Options{})
	if _, err := h.Harvest(context.Background(), "missing", model.KindHTTP); !errors.Is(err, scraper.ErrUnknownSource) {
		t.Errorf("Expected ErrUnknownSource, got %v", err)
	}
	if _, err := h.Harvest(context.Background(), scraper.AllSources, model.Kind("ftp")); !errors.Is(err, model.ErrInvalidKind) {
		t.Errorf("Expected ErrInvalidKind, got %v", err)
	}
}

func TestHarvestCancelled(t *testing.T) {
	a := &mockScraper{name: "a", eps: []model.Endpoint{{Address: "1.1.1.1", Port: 80}}}
	h := New(newRegistry(t, a), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := h.Harvest(ctx, scraper.AllSources, model.KindHTTP)
	if err != nil {
		t.Fatalf("Harvest() returned an error: %v", err)
	}
	evs := drain(ch)
	last := evs[len(evs)-1]
	if last.Type != events.TypeDone || last.Summary == nil || !last.Summary.Stopped {
		t.Errorf("Expected a stopped done event, got %+v", last)
	}
	if a.calls != 0 {
		t.Errorf("No source should run after cancellation")
	}
}
