package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/ingest"
	"proxyharvest/proxypool/model"
)

// FileStorage 以纯文本导入/导出代理列表，每行 "address:port [kind]"。
// 不持有锁：Save 先写临时文件再重命名，并发的 Load 只会读到完整的旧文件或新文件。
type FileStorage struct {
	filePath string
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

// Load 读取文件中的代理。无法解析的行被跳过并记录日志，不会中止导入。
// 没有协议标签的行使用 defaultKind。读取出错时仍返回已解析的部分。
func (fs *FileStorage) Load(defaultKind model.Kind) ([]model.Candidate, []ingest.LineError, error) {
	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer file.Close()

	accepted, lineErrs, err := ingest.Parse(file, defaultKind)
	for _, le := range lineErrs {
		l.Warn().Int("line", le.Line).Str("text", le.Text).Err(le.Err).Msg("Skipping malformed line in proxy file.")
	}
	if err != nil {
		l.Error().Err(err).Int("count", len(accepted)).Str("path", fs.filePath).Msg("Proxy file read was cut short.")
		return accepted, lineErrs, err
	}

	l.Info().Int("count", len(accepted)).Int("skipped", len(lineErrs)).Str("path", fs.filePath).Msg("Loaded proxies from file.")
	return accepted, lineErrs, nil
}

// Save 将代理写入文件，先写临时文件再重命名。
func (fs *FileStorage) Save(cands []model.Candidate) error {
	l := logger.WithComponent("ProxyPool/Storage")

	tmp, err := os.CreateTemp(filepath.Dir(fs.filePath), ".proxies-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := ingest.Write(tmp, cands); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write proxies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), fs.filePath); err != nil {
		return fmt.Errorf("failed to replace proxy file: %w", err)
	}

	l.Info().Int("count", len(cands)).Str("path", fs.filePath).Msg("Successfully saved proxies to file.")
	return nil
}
