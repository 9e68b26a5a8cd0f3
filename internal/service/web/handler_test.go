package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"proxyharvest/internal/shared/types"
	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/harvester"
	"proxyharvest/proxypool/model"
	"proxyharvest/proxypool/scraper"
	"proxyharvest/proxypool/storage"
	"proxyharvest/proxypool/validator"
)

type staticScraper struct {
	eps []model.Endpoint
}

func (s *staticScraper) Name() string { return "static" }

func (s *staticScraper) Fetch(ctx context.Context, kind model.Kind) ([]model.Endpoint, error) {
	return s.eps, nil
}

// okProber 对 10.* 地址报告全部成功，其余全部失败。
type okProber struct{}

func (okProber) Probe(ctx context.Context, c model.Candidate) (int, error) {
	if strings.HasPrefix(c.Address, "10.") {
		return 5, nil
	}
	return 0, nil
}

type testEnv struct {
	m   *manager.Manager
	hub *Hub
	srv *httptest.Server
}

func setupEnv(t *testing.T, user, pass string) *testEnv {
	t.Helper()
	return setupEnvWith(t, user, pass, validator.Config{})
}

func setupEnvWith(t *testing.T, user, pass string, vcfg validator.Config) *testEnv {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "proxies.db"), storage.Options{})
	if err != nil {
		t.Fatalf("storage.Open() returned an error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := scraper.NewRegistry()
	if err := reg.Register(&staticScraper{eps: []model.Endpoint{
		{Address: "10.0.0.1", Port: 8080},
		{Address: "192.0.2.1", Port: 3128},
	}}); err != nil {
		t.Fatal(err)
	}
	v := validator.NewValidator(vcfg).WithProber(okProber{})
	m := manager.NewManager(types.DefaultConfig(), store, harvester.New(reg, harvester.Options{}), v)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewMux(NewHandler(ctx, m, hub, 4), hub, user, pass))
	t.Cleanup(srv.Close)
	return &testEnv{m: m, hub: hub, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// waitIdle 等待后台的抓取、验证与位置查询结束。
func (e *testEnv) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := e.m.Status(context.Background())
		if !st.Harvesting && !st.Verifying && !st.Locating {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pipeline did not become idle")
}

func TestBasicAuth(t *testing.T) {
	env := setupEnv(t, "admin", "secret")

	resp, err := http.Get(env.srv.URL + "/api/sources")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	// 状态接口是公开的
	resp, err = http.Get(env.srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for /api/status, got %d", resp.StatusCode)
	}

	if resp := env.do(t, http.MethodGet, "/api/sources", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", resp.StatusCode)
	}
}

func TestImportListExport(t *testing.T) {
	env := setupEnv(t, "", "")

	resp := env.do(t, http.MethodPost, "/api/workset/import?kind=socks5", "1.2.3.4:1080\nnot-a-proxy\n5.6.7.8:80 [http]\n")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import returned %d", resp.StatusCode)
	}
	var out struct {
		Added  int             `json:"added"`
		Errors []lineErrorJSON `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Added != 2 || len(out.Errors) != 1 || out.Errors[0].Line != 2 {
		t.Errorf("Unexpected import response: %+v", out)
	}

	resp = env.do(t, http.MethodGet, "/api/workset?kind=http", "")
	var entries []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0]["address"] != "5.6.7.8" {
		t.Errorf("Unexpected filtered working set: %+v", entries)
	}

	resp = env.do(t, http.MethodGet, "/api/workset/export", "")
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "1.2.3.4:1080 [socks5]\n5.6.7.8:80 [http]\n" {
		t.Errorf("Unexpected export: %q", body)
	}

	if resp := env.do(t, http.MethodDelete, "/api/workset", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE /api/workset returned %d", resp.StatusCode)
	}
	if env.m.WorkSet().Len() != 0 {
		t.Errorf("Working set should be empty after DELETE")
	}
}

func TestHarvestVerifyAndListProxies(t *testing.T) {
	env := setupEnv(t, "", "")

	if resp := env.do(t, http.MethodPost, "/api/harvest", `{"source":"nope","kind":"http"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Unknown source should be a 400, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/harvest", `{"kind":"ftp"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Invalid kind should be a 400, got %d", resp.StatusCode)
	}

	if resp := env.do(t, http.MethodPost, "/api/harvest", `{"source":"all-sources","kind":"http"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("harvest returned %d", resp.StatusCode)
	}
	env.waitIdle(t)
	if env.m.WorkSet().Len() != 2 {
		t.Fatalf("Expected 2 harvested candidates, got %d", env.m.WorkSet().Len())
	}

	if resp := env.do(t, http.MethodPost, "/api/verify", `{"target":"workset","kind":"http"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("verify returned %d", resp.StatusCode)
	}
	env.waitIdle(t)

	resp := env.do(t, http.MethodGet, "/api/proxies?kind=http", "")
	var rows []model.StoredProxy
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Address != "10.0.0.1" {
		t.Errorf("Expected only the functional proxy in the store, got %+v", rows)
	}

	if resp := env.do(t, http.MethodPost, "/api/verify", `{"target":"elsewhere"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Unknown verify target should be a 400, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/store/compact", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("compact returned %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodDelete, "/api/store", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE /api/store returned %d", resp.StatusCode)
	}
	total, _, _ := env.m.Store().Count(context.Background())
	if total != 0 {
		t.Errorf("Store should be empty after DELETE, got %d rows", total)
	}

	resp = env.do(t, http.MethodPost, "/api/verify/stop", "")
	var stopped map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&stopped); err != nil {
		t.Fatal(err)
	}
	if stopped["stopped"] {
		t.Errorf("Nothing should be running")
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	env := setupEnv(t, "", "")

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() returned an error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if resp := env.do(t, http.MethodPost, "/api/harvest", `{"kind":"socks5"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("harvest returned %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	seen := map[string]bool{}
	for !seen["done"] {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() returned an error: %v (seen %v)", err, seen)
		}
		seen[msg.Type] = true
	}
	if !seen["candidates"] || !seen["log"] {
		t.Errorf("Expected candidates and log messages, got %v", seen)
	}
}

func TestLocateRequiresIP(t *testing.T) {
	env := setupEnv(t, "", "")
	if resp := env.do(t, http.MethodGet, "/api/locate", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without ip, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/inspect", `{"address":"1.2.3.4","kind":"http"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for an address without port, got %d", resp.StatusCode)
	}
}

func TestLocateWorkSet(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/json/10.0.0.1" {
			_, _ = io.WriteString(w, `{"status":"success","country":"日本"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"fail"}`)
	}))
	defer geo.Close()
	env := setupEnvWith(t, "", "", validator.Config{GeoAPIURL: geo.URL + "/json/"})

	if resp := env.do(t, http.MethodGet, "/api/workset/locate", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET should not be allowed, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/workset/import", "10.0.0.1:8080\n192.0.2.1:3128\n"); resp.StatusCode != http.StatusOK {
		t.Fatalf("import returned %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/workset/locate", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("locate returned %d", resp.StatusCode)
	}
	env.waitIdle(t)

	resp := env.do(t, http.MethodGet, "/api/workset", "")
	var entries []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	got := map[interface{}]interface{}{}
	for _, e := range entries {
		got[e["address"]] = e["location"]
	}
	if got["10.0.0.1"] != "日本" || got["192.0.2.1"] != "unknown" {
		t.Errorf("Unexpected locations in the working set: %+v", entries)
	}
}
