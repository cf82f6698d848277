package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv        string `yaml:"app_env"`
	HTTPAddr      string `yaml:"http_addr"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	GeminiAPIKey string `yaml:"gemini_api_key"`
	// Generation fallback chain, cheapest tier first.
	VisionModels []string `yaml:"vision_models"`

	// Crawl bounds
	MaxPages      int           `yaml:"max_pages"`
	PagesPerDepth int           `yaml:"pages_per_depth"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	MaxImageBytes int64         `yaml:"max_image_bytes"`
	FetchWorkers  int           `yaml:"fetch_workers"`
	FetchPerSec   float64       `yaml:"fetch_per_sec"`

	// Generation bounds
	GenerateWorkers int           `yaml:"generate_workers"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	JobBudget       time.Duration `yaml:"job_budget"`

	// Monthly per-account quota. Negative means unlimited.
	FreeTierMonthlyLimit int `yaml:"free_tier_monthly_limit"`
	ProTierMonthlyLimit  int `yaml:"pro_tier_monthly_limit"`

	CarbonTracking bool `yaml:"carbon_tracking"`

	TaskMaxRetries int `yaml:"task_max_retries"`
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func Load() Config {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8082"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		VisionModels: []string{
			getenv("VISION_MODEL_FREE", "gemini-2.0-flash"),
			getenv("VISION_MODEL_PAID", "gemini-2.5-flash"),
		},

		MaxPages:      getenvInt("MAX_PAGES", 100),
		PagesPerDepth: getenvInt("PAGES_PER_DEPTH", 25),
		FetchTimeout:  getenvDuration("FETCH_TIMEOUT", 8*time.Second),
		MaxBodyBytes:  int64(getenvInt("MAX_BODY_BYTES", 5*1024*1024)),
		MaxImageBytes: int64(getenvInt("MAX_IMAGE_BYTES", 8*1024*1024)),
		FetchWorkers:  getenvInt("FETCH_WORKERS", 5),
		FetchPerSec:   float64(getenvInt("FETCH_PER_SEC", 8)),

		GenerateWorkers: getenvInt("GENERATE_WORKERS", 10),
		GenerateTimeout: getenvDuration("GENERATE_TIMEOUT", 25*time.Second),
		JobBudget:       getenvDuration("JOB_BUDGET", 10*time.Minute),

		FreeTierMonthlyLimit: getenvInt("FREE_TIER_MONTHLY_LIMIT", 50),
		ProTierMonthlyLimit:  getenvInt("PRO_TIER_MONTHLY_LIMIT", -1),

		CarbonTracking: getenv("CARBON_TRACKING", "true") == "true",

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", 3),
	}

	// Optional YAML overlay for file-based deployments. Env stays the
	// baseline; any field present in the file wins.
	if path := os.Getenv("ALTTEXT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			panic(fmt.Errorf("config file %s: %w", path, err))
		}
	}

	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	return cfg
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// PageLimit bounds the number of pages a single scan may dispatch for the
// requested depth. Depth is clamped to [1,5] by the API layer.
func (c Config) PageLimit(depth int) int {
	limit := depth * c.PagesPerDepth
	if limit > c.MaxPages {
		return c.MaxPages
	}
	if limit < 1 {
		return 1
	}
	return limit
}
