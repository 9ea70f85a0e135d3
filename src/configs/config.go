package configs

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	// Service 诊断服务配置（远程AI皮肤诊断接口）
	Service struct {
		BaseURL string `yaml:"base_url"` // 诊断服务地址，如 https://api.afiyahmed.example
		Timeout int    `yaml:"timeout"`  // 请求超时时间（秒），默认90秒
	} `yaml:"service"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	// Web 本地网关配置（表现层通过它提交诊断和订阅状态）
	Web struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"web"`

	Image ImageConfig `yaml:"image"`

	// Task 转码工作池配置
	Task struct {
		MaxWorkers int `yaml:"max_workers"`
	} `yaml:"task"`
}

// ImageConfig 图片转码与安全限制配置
type ImageConfig struct {
	TargetWidth    int      `yaml:"target_width"`    // 压缩后固定宽度（像素），默认400
	JPEGQuality    int      `yaml:"jpeg_quality"`    // JPEG编码质量，默认85
	MaxFileSize    int64    `yaml:"max_file_size"`   // 最大文件大小（字节）
	MaxPixels      int64    `yaml:"max_pixels"`      // 最大像素数量
	AllowedFormats []string `yaml:"allowed_formats"` // 允许的图片格式
}

const (
	// DefaultTargetWidth 压缩图片的固定目标宽度
	DefaultTargetWidth = 400
	// DefaultJPEGQuality 统一采用85（历史版本曾出现85与编码器默认值两种取值）
	DefaultJPEGQuality = 85
	// DefaultTimeout 客户端超时统一采用90秒（历史版本曾出现60秒与90秒两种取值）
	DefaultTimeout = 90 * time.Second
)

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}
	config.ApplyDefaults()

	return config, path, nil
}

// ApplyDefaults 填充未配置项的默认值
func (c *Config) ApplyDefaults() {
	if c.Service.Timeout <= 0 {
		c.Service.Timeout = int(DefaultTimeout / time.Second)
	}
	if c.Image.TargetWidth <= 0 {
		c.Image.TargetWidth = DefaultTargetWidth
	}
	if c.Image.JPEGQuality <= 0 {
		c.Image.JPEGQuality = DefaultJPEGQuality
	}
	if c.Image.MaxFileSize <= 0 {
		c.Image.MaxFileSize = 10 * 1024 * 1024
	}
	if c.Image.MaxPixels <= 0 {
		c.Image.MaxPixels = 50 * 1000 * 1000
	}
	if len(c.Image.AllowedFormats) == 0 {
		c.Image.AllowedFormats = []string{"jpeg", "jpg", "png", "gif", "webp"}
	}
	if c.Task.MaxWorkers <= 0 {
		c.Task.MaxWorkers = 2
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
}

// RequestTimeout 返回诊断请求的客户端超时时间
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Service.Timeout) * time.Second
}
