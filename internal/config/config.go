package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service and the plagiarism worker.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	ChannelBase            string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadMaxSizeMB        int
	ListingCacheTTL        time.Duration
	NotificationKeepAlive  time.Duration
	PlagiarismProvider     string
	PlagiarismEndpoint     string
	PlagiarismVendor       string
	PlagiarismTimeout      time.Duration
	PlagiarismSweepEvery   time.Duration
	WorkerMetricsPort      string
	OpenAIAPIKey           string
	OpenAIModel            string
	SubmitRateLimit        int
	OpenAIBaseURL          string
	OTELEndpoint           string
	OTELInsecure           bool
	OTELSampleRatio        float64
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// PlagiarismJobSubject is the NATS subject carrying queued plagiarism jobs.
func (c Config) PlagiarismJobSubject() string {
	base := strings.ReplaceAll(strings.TrimSpace(c.ChannelBase), ":", ".")
	if base == "" {
		base = "campus"
	}
	return base + ".plagiarism.jobs"
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CAMPUS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Campus Portal API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "campus")
	v.SetDefault("cloudinary.folder", "campus/submissions")
	v.SetDefault("upload.max_size_mb", 20)
	v.SetDefault("listing.cache_ttl", "10m")
	v.SetDefault("notification.keepalive", "30s")
	v.SetDefault("plagiarism.provider", "http")
	v.SetDefault("plagiarism.vendor", "internal")
	v.SetDefault("plagiarism.timeout", "15s")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("submit.rate_limit", 20)
	v.SetDefault("otel.sample_ratio", 1.0)
	v.SetDefault("plagiarism.sweep_interval", "1m")
	v.SetDefault("worker.metrics_port", "9091")

	cacheTTL, err := parseDuration(v, "listing.cache_ttl", 10*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid listing cache ttl: %w", err)
	}

	keepAlive, err := parseDuration(v, "notification.keepalive", 30*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid notification keepalive: %w", err)
	}

	plagiarismTimeout, err := parseDuration(v, "plagiarism.timeout", 15*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid plagiarism timeout: %w", err)
	}

	sweepEvery, err := parseDuration(v, "plagiarism.sweep_interval", time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid plagiarism sweep interval: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		ChannelBase:            v.GetString("channel.base"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadMaxSizeMB:        v.GetInt("upload.max_size_mb"),
		ListingCacheTTL:        cacheTTL,
		NotificationKeepAlive:  keepAlive,
		PlagiarismProvider:     strings.ToLower(v.GetString("plagiarism.provider")),
		PlagiarismEndpoint:     v.GetString("plagiarism.endpoint"),
		PlagiarismVendor:       v.GetString("plagiarism.vendor"),
		PlagiarismTimeout:      plagiarismTimeout,
		PlagiarismSweepEvery:   sweepEvery,
		WorkerMetricsPort:      v.GetString("worker.metrics_port"),
		OpenAIAPIKey:           v.GetString("openai.api_key"),
		OpenAIModel:            v.GetString("openai.model"),
		SubmitRateLimit:        v.GetInt("submit.rate_limit"),
		OpenAIBaseURL:          strings.TrimRight(v.GetString("openai.base_url"), "/"),
		OTELEndpoint:           v.GetString("otel.endpoint"),
		OTELInsecure:           v.GetBool("otel.insecure"),
		OTELSampleRatio:        v.GetFloat64("otel.sample_ratio"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.PlagiarismProvider {
	case "http", "openai", "none":
	default:
		return Config{}, fmt.Errorf("unsupported plagiarism provider %q", cfg.PlagiarismProvider)
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 20
	}

	if cfg.SubmitRateLimit <= 0 {
		cfg.SubmitRateLimit = 20
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
