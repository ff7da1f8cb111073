package infra

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"crypto_view/internal/domain"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxPerPage = 250
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name" default:"crypto-view"`
		Version string `yaml:"version" default:"dev"`
	} `yaml:"app"`

	CoinGecko struct {
		URL          string        `yaml:"url" default:"https://api.coingecko.com/api/v3/coins/markets"`
		APIKey       string        `yaml:"api_key"`
		VsCurrency   string        `yaml:"vs_currency" default:"usd"`
		Order        string        `yaml:"order" default:"market_cap_desc"`
		PerPage      int           `yaml:"per_page" default:"100"`
		Page         int           `yaml:"page" default:"1"`
		PollInterval time.Duration `yaml:"poll_interval" default:"10s"`
		Timeout      time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"coingecko"`

	Binance struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		WSURL   string `yaml:"ws_url" default:"wss://stream.binance.com:9443"`
		// asset id -> exchange symbol (bitcoin: BTCUSDT)
		Symbols map[string]string `yaml:"symbols"`
	} `yaml:"binance"`

	CoinCap struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		WSURL   string `yaml:"ws_url" default:"wss://ws.coincap.io"`
		// asset id -> coincap id, only needed where the two differ
		Assets map[string]string `yaml:"assets"`
	} `yaml:"coincap"`

	Feeds struct {
		Reconnect      bool          `yaml:"reconnect" default:"true"`
		MaxRetries     int           `yaml:"max_retries" default:"0"` // 0 = unlimited
		HandshakeDelay time.Duration `yaml:"handshake_timeout" default:"10s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"feeds"`

	View struct {
		BufferSize int           `yaml:"buffer_size" default:"256"`
		BufferTTL  time.Duration `yaml:"buffer_ttl" default:"5m"`
		StaleAfter time.Duration `yaml:"stale_after" default:"30s"`
	} `yaml:"view"`

	Storage struct {
		Path string `yaml:"path" default:"data/crypto_view.db"`
	} `yaml:"storage"`

	HTTP struct {
		Addr            string        `yaml:"addr" default:":8080"`
		CORS            bool          `yaml:"cors" default:"true"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"http"`

	Icons struct {
		Dir  string `yaml:"dir" default:"data/icons"`
		Size int    `yaml:"size" default:"24"`
	} `yaml:"icons"`

	Logging struct {
		Level string `yaml:"level" default:"info"`
		Dir   string `yaml:"dir" default:"logs"`
	} `yaml:"logging"`
}

var defaultBinanceSymbols = map[string]string{
	"bitcoin":  "BTCUSDT",
	"ethereum": "ETHUSDT",
	"solana":   "SOLUSDT",
	"ripple":   "XRPUSDT",
	"dogecoin": "DOGEUSDT",
}

var defaultCoinCapAssets = map[string]string{
	"bitcoin":  "bitcoin",
	"ethereum": "ethereum",
	"solana":   "solana",
	"ripple":   "xrp",
	"dogecoin": "dogecoin",
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		// tags are static; a failure here is a programming error
		panic(err)
	}
	fillFeedDefaults(&cfg)
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig applies defaults, then the YAML document, then env overrides.
// Defaults go first so an explicit `false` in YAML is not reset.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	fillFeedDefaults(&cfg)

	// 4원칙: 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	// 5원칙: 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func fillFeedDefaults(cfg *Config) {
	if cfg.Binance.Symbols == nil {
		cfg.Binance.Symbols = copyMap(defaultBinanceSymbols)
	}
	if cfg.CoinCap.Assets == nil {
		cfg.CoinCap.Assets = copyMap(defaultCoinCapAssets)
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if u, err := url.Parse(c.CoinGecko.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &domain.ConfigError{Field: "coingecko.url", Err: fmt.Errorf("invalid URL: %q", c.CoinGecko.URL)}
	}
	if c.CoinGecko.PerPage < 1 || c.CoinGecko.PerPage > maxPerPage {
		return &domain.ConfigError{Field: "coingecko.per_page", Err: fmt.Errorf("must be between 1 and %d", maxPerPage)}
	}
	if c.CoinGecko.Page < 1 {
		return &domain.ConfigError{Field: "coingecko.page", Err: errors.New("must be positive")}
	}
	if c.CoinGecko.PollInterval <= 0 {
		return &domain.ConfigError{Field: "coingecko.poll_interval", Err: errors.New("must be positive")}
	}

	if c.Binance.Enabled {
		if !isWebsocketURL(c.Binance.WSURL) {
			return &domain.ConfigError{Field: "binance.ws_url", Err: fmt.Errorf("invalid WS URL: %q", c.Binance.WSURL)}
		}
		if len(c.Binance.Symbols) == 0 {
			return &domain.ConfigError{Field: "binance.symbols", Err: errors.New("at least one symbol is required")}
		}
	}
	if c.CoinCap.Enabled {
		if !isWebsocketURL(c.CoinCap.WSURL) {
			return &domain.ConfigError{Field: "coincap.ws_url", Err: fmt.Errorf("invalid WS URL: %q", c.CoinCap.WSURL)}
		}
		if len(c.CoinCap.Assets) == 0 {
			return &domain.ConfigError{Field: "coincap.assets", Err: errors.New("at least one asset is required")}
		}
	}

	if c.View.BufferSize <= 0 {
		return &domain.ConfigError{Field: "view.buffer_size", Err: errors.New("must be positive")}
	}
	if c.View.StaleAfter < 0 || c.View.BufferTTL < 0 {
		return &domain.ConfigError{Field: "view", Err: errors.New("durations must not be negative")}
	}
	if c.HTTP.Addr == "" {
		return &domain.ConfigError{Field: "http.addr", Err: errors.New("required")}
	}
	return nil
}

func isWebsocketURL(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("CRYPTO_COINGECKO_KEY"); key != "" {
		cfg.CoinGecko.APIKey = key
	}
	if addr := os.Getenv("CRYPTO_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if level := os.Getenv("CRYPTO_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// BinanceSymbols returns exchange symbol -> asset id, the direction the decoder needs.
func (c *Config) BinanceSymbols() map[string]domain.AssetID {
	out := make(map[string]domain.AssetID, len(c.Binance.Symbols))
	for id, sym := range c.Binance.Symbols {
		out[strings.ToUpper(sym)] = domain.NormalizeAssetID(id)
	}
	return out
}

// CoinCapAssets returns coincap id -> asset id.
func (c *Config) CoinCapAssets() map[string]domain.AssetID {
	out := make(map[string]domain.AssetID, len(c.CoinCap.Assets))
	for id, remote := range c.CoinCap.Assets {
		if remote == "" {
			remote = id
		}
		out[strings.ToLower(remote)] = domain.NormalizeAssetID(id)
	}
	return out
}
