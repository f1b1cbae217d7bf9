// Package config 读写 YAML 配置文件
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sealdice/sealbridge/platform/milky"
	"github.com/sealdice/sealbridge/platform/ob11"
	"github.com/sealdice/sealbridge/storage"
)

const (
	ProtocolOneBot11 = "onebot11"
	ProtocolMilky    = "milky"
)

// Account 一个 QQ 账号及其协议端
type Account struct {
	// 为 0 时由协议端登录后确定，仅 onebot11 支持
	Uin      int64        `yaml:"uin"`
	Protocol string       `yaml:"protocol"`
	OneBot11 ob11.Config  `yaml:"onebot11,omitempty"`
	Milky    milky.Config `yaml:"milky,omitempty"`
}

type Storage struct {
	Backend    string `yaml:"backend"`
	FlushEvery int    `yaml:"flush_every"`
	// 内存中保留的消息事件数
	HotSize int `yaml:"hot_size"`
}

type Config struct {
	LogLevel    string        `yaml:"log_level"`
	DataDir     string        `yaml:"data_dir"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Storage     Storage       `yaml:"storage"`
	InfosTTL    time.Duration `yaml:"infos_ttl"`
	SendRate    float64       `yaml:"send_rate"`
	SendBurst   int           `yaml:"send_burst"`
	RecentSize  int           `yaml:"recent_size"`
	Accounts    []Account     `yaml:"accounts"`
}

// Load 读取配置，文件中未给出的字段取默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check 检查配置的一致性
func (c *Config) Check() error {
	switch c.Storage.Backend {
	case storage.BackendBunt, storage.BackendSqlite:
	default:
		return fmt.Errorf("未知的存储后端: %s", c.Storage.Backend)
	}
	seen := map[int64]bool{}
	anonymous := 0
	for i, acc := range c.Accounts {
		switch acc.Protocol {
		case ProtocolOneBot11:
			if acc.OneBot11.WSReverse == "" && acc.OneBot11.WSForward == "" {
				return fmt.Errorf("账号 #%d 未配置 onebot11 连接地址", i)
			}
		case ProtocolMilky:
			if acc.Uin == 0 {
				return fmt.Errorf("账号 #%d: milky 协议需要填写 uin", i)
			}
		default:
			return fmt.Errorf("账号 #%d 协议未知: %q", i, acc.Protocol)
		}
		if acc.Uin == 0 {
			anonymous++
			continue
		}
		if seen[acc.Uin] {
			return fmt.Errorf("账号 %d 重复配置", acc.Uin)
		}
		seen[acc.Uin] = true
	}
	if anonymous > 1 {
		return fmt.Errorf("最多只能有一个未填写 uin 的账号")
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default 默认配置，不含任何账号
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		DataDir:     "data",
		MetricsAddr: "",
		Storage: Storage{
			Backend:    storage.BackendBunt,
			FlushEvery: storage.DefaultFlushEvery,
			HotSize:    1024,
		},
		InfosTTL:   5 * time.Minute,
		SendRate:   2,
		SendBurst:  5,
		RecentSize: 256,
	}
}

// Example 带一个 onebot11 账号示例的配置，用于生成配置文件
func Example() *Config {
	cfg := Default()
	cfg.Accounts = []Account{{
		Uin:      0,
		Protocol: ProtocolOneBot11,
		OneBot11: ob11.Config{WSReverse: "ws://127.0.0.1:3001"},
	}}
	return cfg
}

// Anonymous 未配置任何账号时使用：在本地监听，等待协议端连接并登录
func Anonymous() Account {
	return Account{
		Protocol: ProtocolOneBot11,
		OneBot11: ob11.Config{WSForward: "127.0.0.1:3002"},
	}
}
