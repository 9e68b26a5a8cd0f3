package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"proxyharvest/internal/shared/types"
)

func testConfig(t *testing.T) *types.Config {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.StoreConf.Path = filepath.Join(t.TempDir(), "data", "proxies.db")
	cfg.WebConf.Port = 0
	return cfg
}

func TestNewWiresPipeline(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	defer s.Close()

	if got := len(s.Manager().Sources().Names()); got != 22 {
		t.Errorf("Expected 22 builtin sources, got %d", got)
	}
	if _, err := os.Stat(cfg.StoreConf.Path); err != nil {
		t.Errorf("Store file should exist: %v", err)
	}
}

func TestNewRegistersCustomSources(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "sources.yaml")
	data := "sources:\n  - name: my-list\n    http: https://example.com/http.txt\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.HarvestConf.SourcesFile = path

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	defer s.Close()
	if _, ok := s.Manager().Sources().Get("my-list"); !ok {
		t.Errorf("Custom source was not registered")
	}
}

func TestNewRejectsDuplicateCustomSource(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "sources.yaml")
	data := "sources:\n  - name: proxynova\n    http: https://example.com/http.txt\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.HarvestConf.SourcesFile = path

	if _, err := New(cfg); err == nil {
		t.Errorf("Expected an error for a custom source shadowing a builtin one")
	}
}

func TestValidatorConfigMapping(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.VerifyConf.ProbeTimeoutSeconds = 7
	cfg.VerifyConf.SuccessThreshold = 3

	vc := validatorConfig(cfg)
	if vc.ProbeTimeout != 7*time.Second || vc.SuccessThreshold != 3 || len(vc.Targets) != 5 {
		t.Errorf("Unexpected validator config: %+v", vc)
	}
}

func TestRunAndStop(t *testing.T) {
	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}
