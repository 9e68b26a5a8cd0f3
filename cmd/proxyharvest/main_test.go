package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"proxyharvest/proxypool/model"
)

// writeConfig 写一个把存储放在临时目录里的配置文件。extra 追加在末尾。
func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "proxyharvest.ini")
	data := "[log]\nlevel = error\n\n[store]\npath = " + filepath.Join(dir, "proxies.db") + "\n\n[web]\nport = 0\n"
	data += strings.Join(extra, "")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	for _, name := range []string{"harvest", "verify", "revalidate", "store", "sources", "inspect", "locate", "serve", "version"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sub, _, err := cmd.Find([]string{name})
			if err != nil || sub.Name() != name {
				t.Errorf("expected subcommand %q, got %v (err %v)", name, sub, err)
			}
		})
	}

	for _, name := range []string{"config", "log-level"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected persistent flag %q", name)
		}
	}
}

func TestHarvestCmdFlags(t *testing.T) {
	t.Parallel()

	cmd := NewHarvestCmd()
	flag := cmd.Flags().Lookup("concurrency")
	if flag == nil {
		t.Fatal("expected concurrency flag")
	}
	if flag.Shorthand != "c" {
		t.Errorf("expected shorthand 'c', got %q", flag.Shorthand)
	}
	if got := cmd.Flags().Lookup("source").DefValue; got != "all-sources" {
		t.Errorf("expected default source all-sources, got %q", got)
	}
}

func TestParseKindFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         string
		allowEmpty bool
		want       model.Kind
		wantErr    bool
	}{
		{"http", false, model.KindHTTP, false},
		{"SOCKS5", false, model.KindSOCKS5, false},
		{"", true, "", false},
		{"", false, "", true},
		{"ftp", true, "", true},
	}
	for _, tt := range tests {
		got, err := parseKindFlag(tt.in, tt.allowEmpty)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseKindFlag(%q, %v) = %q, %v", tt.in, tt.allowEmpty, got, err)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version returned an error: %v", err)
	}
	if !strings.HasPrefix(out, "proxyharvest version ") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSourcesCmd(t *testing.T) {
	cfg := writeConfig(t)
	out, _, err := execute(t, "sources", "--config", cfg)
	if err != nil {
		t.Fatalf("sources returned an error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if lines[0] != "all-sources" {
		t.Errorf("expected all-sources first, got %q", lines[0])
	}
	if len(lines) != 23 {
		t.Errorf("expected 23 lines, got %d", len(lines))
	}
}

func TestStoreCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, "store", "add", "1.2.3.4:8080", "5.6.7.8:1080 [socks5]", "--config", cfg)
	if err != nil {
		t.Fatalf("store add returned an error: %v", err)
	}
	if !strings.Contains(out, "Added 2 proxies") {
		t.Errorf("unexpected add output: %q", out)
	}

	// 同一 (地址, 端口, 协议) 不会重复插入
	out, _, err = execute(t, "store", "add", "1.2.3.4:8080", "--config", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Added 0 proxies (1 already stored)") {
		t.Errorf("unexpected add output: %q", out)
	}

	out, _, err = execute(t, "store", "list", "--kind", "socks5", "--config", cfg)
	if err != nil {
		t.Fatalf("store list returned an error: %v", err)
	}
	if !strings.Contains(out, "5.6.7.8") || strings.Contains(out, "1.2.3.4") {
		t.Errorf("unexpected list output: %q", out)
	}

	out, _, err = execute(t, "store", "export", "--config", cfg)
	if err != nil {
		t.Fatalf("store export returned an error: %v", err)
	}
	if !strings.Contains(out, "1.2.3.4:8080 [http]") || !strings.Contains(out, "5.6.7.8:1080 [socks5]") {
		t.Errorf("unexpected export output: %q", out)
	}

	if _, _, err := execute(t, "store", "clear", "--config", cfg); !errors.Is(err, errClearNotConfirmed) {
		t.Errorf("expected errClearNotConfirmed, got %v", err)
	}
	if _, _, err := execute(t, "store", "clear", "--yes", "--config", cfg); err != nil {
		t.Fatalf("store clear returned an error: %v", err)
	}
	out, _, _ = execute(t, "store", "export", "--config", cfg)
	if out != "" {
		t.Errorf("expected empty export after clear, got %q", out)
	}
}

func TestStoreAddRejectsInvalidEntry(t *testing.T) {
	cfg := writeConfig(t)
	if _, _, err := execute(t, "store", "add", "1.2.3.4", "--config", cfg); err == nil {
		t.Error("expected an error for an entry without port")
	}
}

func TestExplicitMissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.ini")
	if _, _, err := execute(t, "store", "list", "--config", missing); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLocateFile(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/json/1.2.3.4" {
			_, _ = io.WriteString(w, `{"status":"success","country":"日本"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"fail"}`)
	}))
	defer geo.Close()
	cfg := writeConfig(t, "\n[verify]\ngeo_api_url = "+geo.URL+"/json/\n")

	list := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(list, []byte("1.2.3.4:8080\n5.6.7.8:1080 [socks5]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "locate", "--file", list, "--config", cfg)
	if err != nil {
		t.Fatalf("locate --file returned an error: %v", err)
	}
	if !strings.Contains(out, "1.2.3.4:8080 [http]\t日本") || !strings.Contains(out, "5.6.7.8:1080 [socks5]\tunknown") {
		t.Errorf("unexpected locate output: %q", out)
	}

	if _, _, err := execute(t, "locate", "--config", cfg); err == nil {
		t.Error("expected an error without an IP or --file")
	}
}
