package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderFireworks = "fireworks"
	ProviderOpenAI    = "openai"
	ProviderQwen      = "qwen"
	ProviderArk       = "ark"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	MaxDuration       time.Duration `mapstructure:"max_duration"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ProviderConfig 模型服务配置，APIKey 为空时服务以演示模式运行
type ProviderConfig struct {
	Name        string        `mapstructure:"name"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature *float32      `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (p ProviderConfig) HasCredential() bool {
	return p.APIKey != ""
}

// DefaultTemperature 未配置 temperature 时使用的采样温度
const DefaultTemperature float32 = 0.7

// SamplingTemperature 返回配置的温度，未配置时为 DefaultTemperature，显式配置的 0 保持为 0
func (p ProviderConfig) SamplingTemperature() float32 {
	if p.Temperature == nil {
		return DefaultTemperature
	}
	return *p.Temperature
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClientConfig 终端客户端使用
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// 各模型服务对应的凭证环境变量
var credentialEnv = map[string][]string{
	ProviderFireworks: {"FIREWORKS_API_KEY"},
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderQwen:      {"DASHSCOPE_API_KEY", "QWEN_API_KEY"},
	ProviderArk:       {"ARK_API_KEY", "DOUBAO_API_KEY"},
}

type providerDefault struct {
	BaseURL string
	Model   string
}

// 各模型服务的默认地址和模型，只填充用户未设置的字段。
// BaseURL 为空时使用对应 SDK 自带的默认地址。
var providerDefaults = map[string]providerDefault{
	ProviderFireworks: {
		BaseURL: "https://api.fireworks.ai/inference/v1",
		Model:   "accounts/fireworks/models/llama-v3p1-70b-instruct",
	},
	ProviderOpenAI: {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	ProviderQwen: {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-plus",
	},
	// 方舟的模型为用户自己的推理接入点，没有通用默认值
	ProviderArk: {},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.max_duration", 30*time.Second)
	v.SetDefault("server.heartbeat_interval", 15*time.Second)

	v.SetDefault("provider.name", ProviderFireworks)
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.temperature", DefaultTemperature)
	v.SetDefault("provider.max_tokens", 0)
	v.SetDefault("provider.timeout", 60*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.timeout", 0)
}

// Load 读取配置文件，文件不存在时使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, err
				}
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	// 配置文件优先，未设置时回退到环境变量
	if c.Provider.APIKey == "" {
		for _, name := range credentialEnv[c.Provider.Name] {
			if apiKey := os.Getenv(name); apiKey != "" {
				c.Provider.APIKey = apiKey
				break
			}
		}
	}

	applyProviderDefaults(&c.Provider)
	return c, nil
}

func applyProviderDefaults(p *ProviderConfig) {
	d := providerDefaults[p.Name]
	if p.BaseURL == "" {
		p.BaseURL = d.BaseURL
	}
	if p.Model == "" {
		p.Model = d.Model
	}
}
