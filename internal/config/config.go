package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/i-yeun/vc-assistant/crawler"
	"github.com/i-yeun/vc-assistant/internal/extract"
)

const (
	AppName         = "vc-assistant"
	DefaultFileName = AppName + ".toml"

	DefaultHost = "127.0.0.1"
	DefaultPort = 8080
)

// Config is the whole application configuration.
type Config struct {
	Server ServerConfig `toml:"server" yaml:"server"`
	Crawl  CrawlConfig  `toml:"crawl" yaml:"crawl"`
	LLM    LLMConfig    `toml:"llm" yaml:"llm"`
	Log    LogConfig    `toml:"log" yaml:"log"`
}

type ServerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// CrawlConfig mirrors crawler.Options. Zero values fall back to the crawler defaults.
type CrawlConfig struct {
	Workers            int               `toml:"workers" yaml:"workers"`
	MaxConcurrentFetch int               `toml:"max_concurrent_fetch" yaml:"max_concurrent_fetch"`
	MaxPages           int               `toml:"max_pages" yaml:"max_pages"`
	Timeout            Duration          `toml:"timeout" yaml:"timeout"`
	RequestTimeout     Duration          `toml:"request_timeout" yaml:"request_timeout"`
	Retries            int               `toml:"retries" yaml:"retries"`
	Delay              Duration          `toml:"delay" yaml:"delay"`
	RPS                float64           `toml:"rps" yaml:"rps"`
	UserAgent          string            `toml:"user_agent" yaml:"user_agent"`
	MaxRedirects       int               `toml:"max_redirects" yaml:"max_redirects"`
	MaxBodyBytes       int64             `toml:"max_body_bytes" yaml:"max_body_bytes"`
	DepthPolicy        DepthPolicyConfig `toml:"depth_policy" yaml:"depth_policy"`
}

// DepthPolicyConfig is the declarative depth table. Domains are layered over the shipped table.
type DepthPolicyConfig struct {
	Default int            `toml:"default" yaml:"default"`
	Domains map[string]int `toml:"domains" yaml:"domains"`
}

type LLMConfig struct {
	Provider    string   `toml:"provider" yaml:"provider"`
	BaseURL     string   `toml:"base_url" yaml:"base_url"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	Model       string   `toml:"model" yaml:"model"`
	Instruction string   `toml:"instruction" yaml:"instruction"`
	Mode        string   `toml:"mode" yaml:"mode"`
	ChunkSize   int      `toml:"chunk_size" yaml:"chunk_size"`
	Timeout     Duration `toml:"timeout" yaml:"timeout"`
	Retries     int      `toml:"retries" yaml:"retries"`
}

type LogConfig struct {
	Level       string `toml:"level" yaml:"level"`
	Development bool   `toml:"development" yaml:"development"`
}

// Duration is a time.Duration read from strings such as "1500ms" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0

		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidDuration, value, err)
	}

	d.Duration = parsed

	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file and no environment overrides exist.
func Default() Config {
	policy := crawler.DefaultDepthPolicy()

	return Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Crawl: CrawlConfig{
			Workers:        4,
			MaxPages:       200,
			Timeout:        Duration{2 * time.Minute},
			RequestTimeout: Duration{15 * time.Second},
			MaxRedirects:   10,
			DepthPolicy: DepthPolicyConfig{
				Default: policy.Default,
				Domains: policy.Domains,
			},
		},
		LLM: LLMConfig{
			Provider:  extract.ProviderOpenAI,
			Mode:      string(extract.ModeJSON),
			ChunkSize: extract.DefaultChunkSize,
			Timeout:   Duration{2 * time.Minute},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}

	if err := c.Crawl.validate(); err != nil {
		return err
	}

	if err := c.LLM.validate(); err != nil {
		return err
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}

	return nil
}

func (c CrawlConfig) validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	case c.MaxPages < 0:
		return fmt.Errorf("%w: %d", ErrInvalidMaxPages, c.MaxPages)
	case c.Retries < 0:
		return fmt.Errorf("%w: %d", ErrInvalidRetries, c.Retries)
	case c.Delay.Duration < 0:
		return fmt.Errorf("%w: %s", ErrInvalidDelay, c.Delay)
	case c.RPS < 0:
		return fmt.Errorf("%w: %g", ErrInvalidRPS, c.RPS)
	case c.Timeout.Duration < 0 || c.RequestTimeout.Duration < 0:
		return fmt.Errorf("%w: crawl", ErrInvalidTimeout)
	case c.DepthPolicy.Default < 0:
		return fmt.Errorf("%w: default %d", ErrInvalidDepth, c.DepthPolicy.Default)
	}

	for domain, depth := range c.DepthPolicy.Domains {
		if depth < 0 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidDepth, domain, depth)
		}
	}

	return nil
}

func (c LLMConfig) validate() error {
	switch strings.ToLower(c.Provider) {
	case "", extract.ProviderOpenAI, extract.ProviderOllama:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	switch extract.Mode(strings.ToLower(c.Mode)) {
	case "", extract.ModeJSON, extract.ModeText:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}

	switch {
	case c.ChunkSize < 0:
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.ChunkSize)
	case c.Retries < 0:
		return fmt.Errorf("%w: %d", ErrInvalidRetries, c.Retries)
	case c.Timeout.Duration < 0:
		return fmt.Errorf("%w: llm", ErrInvalidTimeout)
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options converts the crawl section into crawler options without URL, client or logger.
func (c CrawlConfig) Options() crawler.Options {
	return crawler.Options{
		Workers:            c.Workers,
		MaxConcurrentFetch: c.MaxConcurrentFetch,
		MaxPages:           c.MaxPages,
		Timeout:            c.Timeout.Duration,
		RequestTimeout:     c.RequestTimeout.Duration,
		Retries:            c.Retries,
		Delay:              c.Delay.Duration,
		RPS:                c.RPS,
		UserAgent:          c.UserAgent,
		MaxRedirects:       c.MaxRedirects,
		MaxBodyBytes:       c.MaxBodyBytes,
		DepthPolicy:        c.DepthPolicy.Table(),
	}
}

// Table layers the configured domains over the shipped depth table.
func (c DepthPolicyConfig) Table() crawler.DepthTable {
	table := crawler.DefaultDepthPolicy().WithDomains(c.Domains)
	table.Default = c.Default

	return table
}

// Backend converts the llm section into extract.BackendConfig.
func (c LLMConfig) Backend() extract.BackendConfig {
	return extract.BackendConfig{
		Provider: c.Provider,
		BaseURL:  c.BaseURL,
		APIKey:   c.APIKey,
		Model:    c.Model,
		Timeout:  c.Timeout.Duration,
		Retries:  c.Retries,
	}
}

// ExtractOptions converts the llm section into extractor options.
func (c LLMConfig) ExtractOptions() extract.Options {
	return extract.Options{
		Instruction: c.Instruction,
		ChunkSize:   c.ChunkSize,
		Mode:        extract.Mode(strings.ToLower(c.Mode)),
	}
}
