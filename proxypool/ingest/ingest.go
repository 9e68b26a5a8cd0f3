// Package ingest parses operator-supplied proxy lists and renders the text
// export format "address:port [kind]".
package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"proxyharvest/proxypool/model"
)

var (
	ErrMissingPort = errors.New("missing port")
	ErrInvalidPort = errors.New("invalid port")
	ErrInvalidKind = errors.New("invalid kind")
	ErrEmptyLine   = errors.New("empty line")
	ErrLineTooLong = errors.New("line too long")
)

// LineError 描述被跳过的一行。Line 从 1 开始计数。
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// ParseLine 解析 "address:port" 或 "address:port [kind]"。
// 未给出协议时使用 defaultKind。
func ParseLine(line string, defaultKind model.Kind) (model.Candidate, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return model.Candidate{}, ErrEmptyLine
	}

	kind := defaultKind
	hostPort := line
	// 协议标签中不会有冒号，借此与 IPv6 的 [addr] 区分
	if i := strings.LastIndexByte(line, '['); i >= 0 && !strings.Contains(line[i:], ":") {
		tail := strings.TrimSpace(line[i:])
		if !strings.HasSuffix(tail, "]") {
			return model.Candidate{}, fmt.Errorf("%w: unterminated kind", ErrInvalidKind)
		}
		k, err := model.ParseKind(tail[1 : len(tail)-1])
		if err != nil {
			return model.Candidate{}, fmt.Errorf("%w: %s", ErrInvalidKind, tail)
		}
		kind = k
		hostPort = strings.TrimSpace(line[:i])
	}
	if !kind.Valid() {
		return model.Candidate{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	i := strings.LastIndexByte(hostPort, ':')
	if i < 0 {
		return model.Candidate{}, ErrMissingPort
	}
	host, port := hostPort[:i], hostPort[i+1:]
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return model.Candidate{}, fmt.Errorf("%w: too many colons", ErrInvalidPort)
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	ep, err := model.ParseEndpoint(host, port)
	if err != nil {
		if strings.TrimSpace(host) == "" {
			return model.Candidate{}, fmt.Errorf("empty address")
		}
		return model.Candidate{}, fmt.Errorf("%w: %q", ErrInvalidPort, port)
	}
	return model.Candidate{Address: ep.Address, Port: ep.Port, Kind: kind}, nil
}

// MaxLineLength 是单行的长度上限，超出的行整行跳过并报告。
const MaxLineLength = 64 * 1024

// Parse 逐行解析 r。坏行被跳过并在 errs 中报告，不会中止解析；空行直接忽略。
// 读取出错时 accepted 与 errs 仍包含出错前解析到的内容。
func Parse(r io.Reader, defaultKind model.Kind) (accepted []model.Candidate, errs []LineError, err error) {
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		raw, tooLong, rerr := readLine(br)
		if rerr == io.EOF {
			return accepted, errs, nil
		}
		if rerr != nil {
			return accepted, errs, fmt.Errorf("failed to read proxy list: %w", rerr)
		}
		lineNo++
		if tooLong {
			errs = append(errs, LineError{Line: lineNo, Text: string(raw) + "...", Err: ErrLineTooLong})
			continue
		}
		text := string(raw)
		c, perr := ParseLine(text, defaultKind)
		if errors.Is(perr, ErrEmptyLine) {
			continue
		}
		if perr != nil {
			errs = append(errs, LineError{Line: lineNo, Text: strings.TrimSpace(text), Err: perr})
			continue
		}
		accepted = append(accepted, c)
	}
}

// readLine 读取一整行。超过 MaxLineLength 时丢弃剩余部分，只返回开头一小段用于报告。
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, rerr := br.ReadLine()
		if rerr != nil {
			if rerr == io.EOF && (len(line) > 0 || tooLong) {
				return line, tooLong, nil
			}
			return nil, false, rerr
		}
		if !tooLong {
			if len(line)+len(chunk) > MaxLineLength {
				tooLong = true
				line = append(line[:0:0], line[:min(len(line), 32)]...)
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// ParseString 是 Parse 的字符串版本。
func ParseString(s string, defaultKind model.Kind) ([]model.Candidate, []LineError) {
	accepted, errs, _ := Parse(strings.NewReader(s), defaultKind)
	return accepted, errs
}

// Format 返回导出格式，协议标签总是写出。
func Format(c model.Candidate) string {
	return c.String()
}

// Write 按导出格式逐行写出候选。
func Write(w io.Writer, cands []model.Candidate) error {
	bw := bufio.NewWriter(w)
	for _, c := range cands {
		if _, err := bw.WriteString(Format(c) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
