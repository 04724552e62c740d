package config

import (
	"os"
	"strconv"
	"time"
)

const (
	DispatchModeAsynq = "asynq"
	DispatchModeLocal = "local"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type X struct {
	ClientID      string
	ClientSecret  string
	APIBaseURL    string
	RatePerMinute int
}

type Extractor struct {
	BaseURL string
	Token   string
	Actor   string
}

type Dispatch struct {
	Mode          string
	LocalDelay    time.Duration
	HonorSchedule bool
	JobTimeout    time.Duration
	Concurrency   int
}

type Config struct {
	Port           string
	PostgresURI    string
	RedisURI       string
	FrontendURL    string
	Dispatch       Dispatch
	SlotMaxDays    int
	ReconcileGrace time.Duration
	R2             R2
	X              X
	Extractor      Extractor
	FFmpegPath     string
	FFprobePath    string
	SecretKey      string
	CookieName     string
}

func LoadConfig() *Config {
	return &Config{
		Port:        getEnv("PORT", "3000"),
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", "localhost:6379"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		Dispatch: Dispatch{
			Mode:          getEnv("DISPATCH_MODE", DispatchModeAsynq),
			LocalDelay:    getEnvDuration("LOCAL_DISPATCH_DELAY", 2*time.Second),
			HonorSchedule: getEnvBool("LOCAL_DISPATCH_HONOR_SCHEDULE", false),
			JobTimeout:    getEnvDuration("JOB_TIMEOUT", 20*time.Minute),
			Concurrency:   getEnvInt("WORKER_CONCURRENCY", 10),
		},
		SlotMaxDays:    getEnvInt("SLOT_MAX_DAYS", 90),
		ReconcileGrace: getEnvDuration("RECONCILE_GRACE", 10*time.Minute),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		X: X{
			ClientID:      getEnv("X_CLIENT_ID", ""),
			ClientSecret:  getEnv("X_CLIENT_SECRET", ""),
			APIBaseURL:    getEnv("X_API_BASE_URL", "https://api.x.com"),
			RatePerMinute: getEnvInt("X_RATE_PER_MINUTE", 50),
		},
		Extractor: Extractor{
			BaseURL: getEnv("EXTRACTOR_BASE_URL", "https://api.apify.com"),
			Token:   getEnv("EXTRACTOR_TOKEN", ""),
			Actor:   getEnv("EXTRACTOR_ACTOR", ""),
		},
		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),
		SecretKey:   getEnv("SECRET_KEY", ""),
		CookieName:  getEnv("COOKIE_NAME", "session"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
