package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"proxyharvest/proxypool/model"
)

func TestFileStorageSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.txt")
	fs := NewFileStorage(path)

	cands := []model.Candidate{
		{Address: "1.1.1.1", Port: 80, Kind: model.KindHTTP},
		{Address: "2.2.2.2", Port: 1080, Kind: model.KindSOCKS5},
	}
	if err := fs.Save(cands); err != nil {
		t.Fatalf("Save() returned an error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != "1.1.1.1:80 [http]\n2.2.2.2:1080 [socks5]\n" {
		t.Errorf("Unexpected export content: %q", data)
	}

	got, lineErrs, err := fs.Load(model.KindHTTP)
	if err != nil {
		t.Fatalf("Load() returned an error: %v", err)
	}
	if len(lineErrs) != 0 || len(got) != 2 || got[1] != cands[1] {
		t.Errorf("Load() = %+v, %v", got, lineErrs)
	}
}

func TestFileStorageLoadSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.txt")
	if err := os.WriteFile(path, []byte("3.3.3.3:3128\nnot-a-proxy\n4.4.4.4:99999\n"), 0o644); err != nil {
		t.Fatalf("write import: %v", err)
	}

	got, lineErrs, err := NewFileStorage(path).Load(model.KindSOCKS5)
	if err != nil {
		t.Fatalf("Load() returned an error: %v", err)
	}
	if len(got) != 1 || got[0].Kind != model.KindSOCKS5 {
		t.Errorf("Expected one socks5 candidate, got %+v", got)
	}
	if len(lineErrs) != 2 {
		t.Errorf("Expected 2 skipped lines, got %d", len(lineErrs))
	}
}

func TestFileStorageConcurrentSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.txt")
	a := []model.Candidate{
		{Address: "1.1.1.1", Port: 80, Kind: model.KindHTTP},
		{Address: "2.2.2.2", Port: 80, Kind: model.KindHTTP},
	}
	b := []model.Candidate{
		{Address: "3.3.3.3", Port: 1080, Kind: model.KindSOCKS5},
		{Address: "4.4.4.4", Port: 1080, Kind: model.KindSOCKS5},
	}
	if err := NewFileStorage(path).Save(a); err != nil {
		t.Fatalf("Save() returned an error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := NewFileStorage(path).Save(b); err != nil {
					t.Errorf("Save() returned an error: %v", err)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				got, lineErrs, err := NewFileStorage(path).Load(model.KindHTTP)
				if err != nil || len(lineErrs) != 0 || len(got) != 2 {
					t.Errorf("Load() saw a partial file: %+v, %v, %v", got, lineErrs, err)
				}
			}
		}()
	}
	wg.Wait()
}
