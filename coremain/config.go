package coremain

import (
	"github.com/pmkol/ichika-x/mlog"
	"github.com/pmkol/ichika-x/pkg/retry"
)

type Config struct {
	Log      mlog.LogConfig  `yaml:"log"`
	Include  []string        `yaml:"include,omitempty"`
	API      APIConfig       `yaml:"api"`
	Store    StoreConfig     `yaml:"store"`
	Cache    CacheConfig     `yaml:"cache"`
	Redis    RedisConfig     `yaml:"redis"`
	Publish  PublishConfig   `yaml:"publish"`
	Accounts []AccountConfig `yaml:"accounts"`
}

// APIConfig is the debug api. It serves /metrics, /accounts and
// /debug/pprof.
type APIConfig struct {
	HTTP string `yaml:"http"`
}

type StoreConfig struct {
	// Type is "path" (default) or "redis".
	Type string `yaml:"type"`
	// Dir is the root of the path store. Default is "bots".
	Dir string `yaml:"dir"`
}

type CacheConfig struct {
	// TTL in seconds. Default is 600.
	TTL        int          `yaml:"ttl"`
	MaxGroups  int          `yaml:"max_groups"`
	MaxMembers int          `yaml:"max_members"`
	Retry      retry.Policy `yaml:"retry"`
}

type RedisConfig struct {
	// URL is a redis url like "redis://localhost:6379/0". Redis is
	// disabled when it is empty.
	URL string `yaml:"url"`
	// Timeout in milliseconds. Default is 1000.
	Timeout int `yaml:"timeout"`
}

type PublishConfig struct {
	// Log logs every event.
	Log bool `yaml:"log"`
	// Channel publishes every event to this redis channel.
	Channel string `yaml:"channel"`
}

type AccountConfig struct {
	Uin      int64  `yaml:"uin"`
	Protocol string `yaml:"protocol"`
	Engine   string `yaml:"engine"`
	// Args is passed to the engine as is.
	Args map[string]any `yaml:"args,omitempty"`

	// Login is "password" (default) or "qrcode".
	Login       string `yaml:"login"`
	Password    string `yaml:"password,omitempty"`
	PasswordMD5 string `yaml:"password_md5,omitempty"`
	UseSMS      bool   `yaml:"use_sms"`
	// QRCodeInterval in seconds. Default is 5.
	QRCodeInterval int `yaml:"qrcode_interval"`

	Socks5    Socks5Config `yaml:"socks5"`
	Reconnect retry.Policy `yaml:"reconnect"`
}

type Socks5Config struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}
