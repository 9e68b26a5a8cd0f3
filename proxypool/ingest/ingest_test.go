package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"proxyharvest/proxypool/model"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    model.Candidate
		wantErr error
	}{
		{"plain uses default kind", "1.2.3.4:8080", model.Candidate{Address: "1.2.3.4", Port: 8080, Kind: model.KindHTTP}, nil},
		{"explicit kind", "5.6.7.8:1080 [socks5]", model.Candidate{Address: "5.6.7.8", Port: 1080, Kind: model.KindSOCKS5}, nil},
		{"kind is case insensitive", " 5.6.7.8:1080 [SOCKS5] ", model.Candidate{Address: "5.6.7.8", Port: 1080, Kind: model.KindSOCKS5}, nil},
		{"hostname", "proxy.example.org:3128 [http]", model.Candidate{Address: "proxy.example.org", Port: 3128, Kind: model.KindHTTP}, nil},
		{"ipv6", "[2001:db8::1]:1080", model.Candidate{Address: "2001:db8::1", Port: 1080, Kind: model.KindHTTP}, nil},
		{"ipv6 with kind", "[::1]:1080 [socks5]", model.Candidate{Address: "::1", Port: 1080, Kind: model.KindSOCKS5}, nil},
		{"unterminated kind", "1.2.3.4:80 [http", model.Candidate{}, ErrInvalidKind},
		{"missing port", "1.2.3.4", model.Candidate{}, ErrMissingPort},
		{"non numeric port", "1.2.3.4:http", model.Candidate{}, ErrInvalidPort},
		{"port out of range", "1.2.3.4:70000", model.Candidate{}, ErrInvalidPort},
		{"port zero", "1.2.3.4:0", model.Candidate{}, ErrInvalidPort},
		{"unknown kind", "1.2.3.4:80 [ftp]", model.Candidate{}, ErrInvalidKind},
		{"extra colon", "1.2.3.4:80:90", model.Candidate{}, ErrInvalidPort},
		{"empty", "   ", model.Candidate{}, ErrEmptyLine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line, model.KindHTTP)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseLine(%q) error = %v, want %v", tt.line, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLine(%q) returned an error: %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseSkipsAndReportsBadLines(t *testing.T) {
	input := "1.1.1.1:80\n\nbad-line\n2.2.2.2:1080 [socks5]\n3.3.3.3:abc\n"
	accepted, errs := ParseString(input, model.KindHTTP)

	if len(accepted) != 2 {
		t.Fatalf("Expected 2 accepted candidates, got %d", len(accepted))
	}
	if accepted[1].Kind != model.KindSOCKS5 {
		t.Errorf("Expected second candidate to be socks5, got %s", accepted[1].Kind)
	}
	if len(errs) != 2 {
		t.Fatalf("Expected 2 line errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Line != 3 || errs[1].Line != 5 {
		t.Errorf("Unexpected error line numbers: %d, %d", errs[0].Line, errs[1].Line)
	}
}

func TestWriteAlwaysIncludesKind(t *testing.T) {
	var buf bytes.Buffer
	cands := []model.Candidate{
		{Address: "1.1.1.1", Port: 80, Kind: model.KindHTTP},
		{Address: "2.2.2.2", Port: 1080, Kind: model.KindSOCKS5},
	}
	if err := Write(&buf, cands); err != nil {
		t.Fatalf("Write() returned an error: %v", err)
	}
	want := "1.1.1.1:80 [http]\n2.2.2.2:1080 [socks5]\n"
	if buf.String() != want {
		t.Errorf("Write() produced %q, want %q", buf.String(), want)
	}

	// exported text must parse back to the same candidates regardless of default kind
	back, errs := ParseString(buf.String(), model.KindSOCKS5)
	if len(errs) != 0 || len(back) != 2 || back[0] != cands[0] || back[1] != cands[1] {
		t.Errorf("Exported text did not parse back: %v %v", back, errs)
	}
	if !strings.HasSuffix(Format(cands[0]), "[http]") {
		t.Errorf("Format() missing kind tag: %s", Format(cands[0]))
	}
}

func TestParseReportsOverlongLine(t *testing.T) {
	input := "1.1.1.1:80\n" + strings.Repeat("x", 2*1024*1024) + "\n2.2.2.2:1080 [socks5]\n"
	accepted, errs, err := Parse(strings.NewReader(input), model.KindHTTP)
	if err != nil {
		t.Fatalf("Parse() returned an error: %v", err)
	}
	if len(accepted) != 2 || accepted[1].Address != "2.2.2.2" {
		t.Fatalf("Lines around the long line should be accepted, got %+v", accepted)
	}
	if len(errs) != 1 || errs[0].Line != 2 || !errors.Is(errs[0].Err, ErrLineTooLong) {
		t.Fatalf("Expected a too-long error on line 2, got %+v", errs)
	}
	if len(errs[0].Text) > 64 {
		t.Errorf("Reported text should be truncated, got %d bytes", len(errs[0].Text))
	}
}

type failingReader struct {
	data string
	done bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.done {
		return 0, errors.New("connection reset")
	}
	f.done = true
	return copy(p, f.data), nil
}

func TestParseKeepsLinesBeforeReadError(t *testing.T) {
	accepted, _, err := Parse(&failingReader{data: "1.1.1.1:80\n2.2.2.2:80\n"}, model.KindHTTP)
	if err == nil {
		t.Fatal("Expected the read error to be returned")
	}
	if len(accepted) != 2 {
		t.Errorf("Lines read before the error should be returned, got %+v", accepted)
	}
}
