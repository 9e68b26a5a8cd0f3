package scraper

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"proxyharvest/proxypool/model"
)

// CustomSource 是用户在 YAML 文件中定义的纯文本列表源。
type CustomSource struct {
	Name   string `yaml:"name"`
	HTTP   string `yaml:"http"`
	SOCKS5 string `yaml:"socks5"`
}

type customSourcesFile struct {
	Sources []CustomSource `yaml:"sources"`
}

// LoadCustomSources 读取用户自定义源文件。
func LoadCustomSources(path string) ([]CustomSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseCustomSources(data)
}

func ParseCustomSources(data []byte) ([]CustomSource, error) {
	var f customSourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	for i, s := range f.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("source #%d has no name", i+1)
		}
		if s.HTTP == "" && s.SOCKS5 == "" {
			return nil, fmt.Errorf("source %q has no url", s.Name)
		}
	}
	return f.Sources, nil
}

// RegisterCustom 将自定义源登记到 r，名称与已有源冲突时返回错误。
func RegisterCustom(r *Registry, sources []CustomSource, client *Client) error {
	for _, cs := range sources {
		urls := map[model.Kind]string{}
		var kinds onlyKinds
		if cs.HTTP != "" {
			urls[model.KindHTTP] = cs.HTTP
			kinds = append(kinds, model.KindHTTP)
		}
		if cs.SOCKS5 != "" {
			urls[model.KindSOCKS5] = cs.SOCKS5
			kinds = append(kinds, model.KindSOCKS5)
		}
		if err := r.Register(newTextScraper(cs.Name, perKindURL(urls), kinds, client)); err != nil {
			return err
		}
	}
	return nil
}
