package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Vision      VisionConfig      `mapstructure:"vision"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Tagger      TaggerConfig      `mapstructure:"tagger"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Queue       QueueConfig       `mapstructure:"queue"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Image       ImageConfig       `mapstructure:"image"`
	DedupWindow time.Duration     `mapstructure:"dedup_window"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// LogConfig 日誌設定
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// VisionConfig 影像辨識服務設定
type VisionConfig struct {
	Provider         string        `mapstructure:"provider"` // gemini | openrouter
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	FallbackProvider string        `mapstructure:"fallback_provider"`
	FallbackModel    string        `mapstructure:"fallback_model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FallbackTimeout  time.Duration `mapstructure:"fallback_timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	MaxCandidates    int           `mapstructure:"max_candidates"`
	MaxTokens        int           `mapstructure:"max_tokens"`
}

// RecognitionConfig 辨識結果整併設定
type RecognitionConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MaxResults          int     `mapstructure:"max_results"`
	CorroborationBoost  float64 `mapstructure:"corroboration_boost"`
	DominanceRatio      float64 `mapstructure:"dominance_ratio"`
	DefaultConfidence   float64 `mapstructure:"default_confidence"`
	TablesPath          string  `mapstructure:"tables_path"`
}

// CatalogConfig 食材目錄設定
type CatalogConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	BaseURL             string        `mapstructure:"base_url"`
	ListPath            string        `mapstructure:"list_path"`
	Timeout             time.Duration `mapstructure:"timeout"`
	TTL                 time.Duration `mapstructure:"ttl"`
	ServeStale          bool          `mapstructure:"serve_stale"`
	SubstringSimilarity float64       `mapstructure:"substring_similarity"`
	FuzzySimilarity     float64       `mapstructure:"fuzzy_similarity"`
	ExactConfidence     float64       `mapstructure:"exact_confidence"`
	MorphConfidence     float64       `mapstructure:"morph_confidence"`
	SubstringConfidence float64       `mapstructure:"substring_confidence"`
}

// TaggerConfig 通用物件標籤服務設定
type TaggerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig 緩存配置
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"` // memory | redis
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
}

// QueueConfig 模型呼叫隊列配置
type QueueConfig struct {
	Workers int `mapstructure:"workers"`
	MaxSize int `mapstructure:"max_size"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// ImageConfig 圖片配置
type ImageConfig struct {
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// .env 不存在時直接使用環境變數
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// 設定環境變數前綴
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 綁定環境變量
	bindings := map[string][]string{
		"vision.api_key":                   {"VISION_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY"},
		"vision.provider":                  {"VISION_PROVIDER"},
		"vision.model":                     {"VISION_MODEL"},
		"vision.fallback_model":            {"VISION_FALLBACK_MODEL"},
		"vision.timeout":                   {"VISION_TIMEOUT"},
		"vision.fallback_timeout":          {"VISION_FALLBACK_TIMEOUT"},
		"recognition.confidence_threshold": {"CONFIDENCE_THRESHOLD"},
		"recognition.max_results":          {"MAX_RESULTS"},
		"catalog.base_url":                 {"CATALOG_BASE_URL"},
		"catalog.enabled":                  {"CATALOG_ENABLED"},
		"tagger.base_url":                  {"TAGGER_BASE_URL"},
		"tagger.api_key":                   {"TAGGER_API_KEY"},
		"cache.enabled":                    {"CACHE_ENABLED"},
		"cache.backend":                    {"CACHE_BACKEND"},
		"cache.redis_addr":                 {"REDIS_ADDR"},
		"queue.workers":                    {"QUEUE_WORKERS"},
		"queue.max_size":                   {"QUEUE_MAX_SIZE"},
		"rate_limit.enabled":               {"RATE_LIMIT_ENABLED"},
		"rate_limit.requests":              {"RATE_LIMIT_REQUESTS"},
		"rate_limit.window":                {"RATE_LIMIT_WINDOW"},
		"dedup_window":                     {"DEDUP_WINDOW"},
		"log.level":                        {"LOG_LEVEL"},
		"log.dir":                          {"LOG_DIR"},
		"server.port":                      {"PORT"},
	}
	for key, envs := range bindings {
		input := append([]string{key}, envs...)
		if err := v.BindEnv(input...); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}

	// 設定設定檔名稱和路徑
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// 讀取設定檔
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 解析設定
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	// 應用程式設定
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", true)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "ingredient-recognizer")

	// 伺服器設定
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.max_body_bytes", 15<<20)

	// 日誌設定
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")

	// 影像辨識設定
	v.SetDefault("vision.provider", "gemini")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.base_url", "")
	v.SetDefault("vision.fallback_provider", "")
	v.SetDefault("vision.model", "gemini-2.0-flash")
	v.SetDefault("vision.fallback_model", "gemini-1.5-flash")
	v.SetDefault("vision.timeout", "30s")
	v.SetDefault("vision.fallback_timeout", "25s")
	v.SetDefault("vision.max_attempts", 3)
	v.SetDefault("vision.max_candidates", 25)
	v.SetDefault("vision.max_tokens", 1024)

	// 辨識整併設定
	v.SetDefault("recognition.confidence_threshold", 0.5)
	v.SetDefault("recognition.max_results", 12)
	v.SetDefault("recognition.corroboration_boost", 0.15)
	v.SetDefault("recognition.dominance_ratio", 0.7)
	v.SetDefault("recognition.default_confidence", 0.7)
	v.SetDefault("recognition.tables_path", "")

	// 食材目錄設定
	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.list_path", "/ingredients")
	v.SetDefault("catalog.timeout", "15s")
	v.SetDefault("catalog.ttl", "24h")
	v.SetDefault("catalog.serve_stale", true)
	v.SetDefault("catalog.substring_similarity", 0.6)
	v.SetDefault("catalog.fuzzy_similarity", 0.8)
	v.SetDefault("catalog.exact_confidence", 0.9)
	v.SetDefault("catalog.morph_confidence", 0.9)
	v.SetDefault("catalog.substring_confidence", 0.7)

	// 標籤服務設定
	v.SetDefault("tagger.enabled", false)
	v.SetDefault("tagger.base_url", "")
	v.SetDefault("tagger.api_key", "")
	v.SetDefault("tagger.timeout", "20s")

	// 快取設定
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.cleanup_interval", "10m")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	// 隊列設定
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_size", 100)

	// 限流設定
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "1m")

	// 圖片設定
	v.SetDefault("image.max_size_bytes", 10*1024*1024) // 10MB

	v.SetDefault("dedup_window", "1s")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	switch config.Vision.Provider {
	case "gemini", "openrouter":
	default:
		return fmt.Errorf("unsupported vision provider %q", config.Vision.Provider)
	}
	if config.Vision.FallbackProvider == "" {
		config.Vision.FallbackProvider = config.Vision.Provider
	}
	if config.Vision.MaxAttempts <= 0 {
		return fmt.Errorf("invalid vision max attempts")
	}
	if config.Vision.MaxCandidates < 1 || config.Vision.MaxCandidates > 25 {
		return fmt.Errorf("vision max candidates must be between 1 and 25")
	}
	if config.Vision.Timeout <= 0 || config.Vision.FallbackTimeout <= 0 {
		return fmt.Errorf("invalid vision timeout")
	}

	r := config.Recognition
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0,1]")
	}
	if r.MaxResults <= 0 {
		return fmt.Errorf("invalid max results")
	}
	if r.DominanceRatio <= 0 || r.DominanceRatio > 1 {
		return fmt.Errorf("dominance ratio must be within (0,1]")
	}

	if config.Catalog.Enabled {
		if config.Catalog.BaseURL == "" {
			return fmt.Errorf("catalog base url is required when catalog is enabled")
		}
		if config.Catalog.TTL <= 0 {
			return fmt.Errorf("invalid catalog ttl")
		}
		c := config.Catalog
		if !(c.ExactConfidence >= c.MorphConfidence && c.MorphConfidence >= c.SubstringConfidence) {
			return fmt.Errorf("catalog tier confidences must not increase from exact to substring")
		}
	}
	if config.Tagger.Enabled && config.Tagger.BaseURL == "" {
		return fmt.Errorf("tagger base url is required when tagger is enabled")
	}

	if config.Queue.Workers <= 0 || config.Queue.MaxSize < 0 {
		return fmt.Errorf("invalid queue settings")
	}

	if config.RateLimit.Enabled && (config.RateLimit.Requests <= 0 || config.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	if config.Cache.Enabled {
		switch config.Cache.Backend {
		case "memory":
			if config.Cache.MaxSize <= 0 {
				return fmt.Errorf("invalid cache max size")
			}
			if config.Cache.CleanupInterval <= 0 {
				return fmt.Errorf("invalid cache cleanup interval")
			}
		case "redis":
			if config.Cache.RedisAddr == "" {
				return fmt.Errorf("redis address is required for redis cache backend")
			}
		default:
			return fmt.Errorf("unsupported cache backend %q", config.Cache.Backend)
		}
		if config.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
	}

	return nil
}
