package types

// LogConf contains logging specific configuration
type LogConf struct {
	Level   string `ini:"level"`
	Format  string `ini:"format"` // console | json
	NoColor bool   `ini:"no_color"`
}

// HarvestConf 控制代理源抓取行为。
type HarvestConf struct {
	RequestTimeoutSeconds int    `ini:"request_timeout_seconds"`
	Parallel              bool   `ini:"parallel"`
	MaxParallel           int    `ini:"max_parallel"`
	TLSFingerprint        string `ini:"tls_fingerprint"` // "" (Go 默认) 或 "chrome"
	SourcesFile           string `ini:"sources_file"`    // 用户自定义源 (YAML)
}

// VerifyConf 控制验证池。
type VerifyConf struct {
	Concurrency         int      `ini:"concurrency"`
	ProbeTimeoutSeconds int      `ini:"probe_timeout_seconds"`
	SuccessThreshold    int      `ini:"success_threshold"`
	Targets             []string `ini:"targets" delim:","`
	IPEchoURL           string   `ini:"ip_echo_url"`
	GeoAPIURL           string   `ini:"geo_api_url"`
}

type StoreConf struct {
	Path      string `ini:"path"` // 为空时使用 XDG 数据目录
	EnableWAL bool   `ini:"enable_wal"`
}

type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// ScheduleConf 定义 serve 模式下的周期任务，间隔为 0 表示禁用。
type ScheduleConf struct {
	HarvestIntervalMinutes    int    `ini:"harvest_interval_minutes"`
	RevalidateIntervalMinutes int    `ini:"revalidate_interval_minutes"`
	Source                    string `ini:"source"`
	Kind                      string `ini:"kind"`
}

// Config 是项目的统一配置结构体。
type Config struct {
	LogConf      `ini:"log"`
	HarvestConf  `ini:"harvest"`
	VerifyConf   `ini:"verify"`
	StoreConf    `ini:"store"`
	WebConf      `ini:"web"`
	ScheduleConf `ini:"schedule"`
}

// DefaultTargets 是默认的验证目标组。
var DefaultTargets = []string{
	"http://www.baidu.com",
	"http://www.qq.com",
	"http://www.163.com",
	"http://www.sohu.com",
	"http://www.sina.com.cn",
}

// DefaultConfig 返回未加载任何文件时使用的配置。
func DefaultConfig() *Config {
	return &Config{
		LogConf: LogConf{Level: "info", Format: "console"},
		HarvestConf: HarvestConf{
			RequestTimeoutSeconds: 15,
			MaxParallel:           4,
		},
		VerifyConf: VerifyConf{
			Concurrency:         10,
			ProbeTimeoutSeconds: 5,
			SuccessThreshold:    2,
			Targets:             append([]string(nil), DefaultTargets...),
			IPEchoURL:           "https://api.ipify.org?format=json",
			GeoAPIURL:           "http://ip-api.com/json/",
		},
		WebConf: WebConf{Port: 8090},
		ScheduleConf: ScheduleConf{
			Source: "all-sources",
			Kind:   "http",
		},
	}
}
