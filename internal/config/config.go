package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr              string        `yaml:"addr"`
	JWTSecret         string        `yaml:"jwt_secret"`
	LogLevel          string        `yaml:"log_level"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	RequeueAfter      time.Duration `yaml:"requeue_after"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins       []string      `yaml:"cors_origins"`

	Storage  StorageConfig  `yaml:"storage"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`

	Providers ProvidersConfig `yaml:"providers"`
	Media     MediaConfig     `yaml:"media"`
	Captions  CaptionsConfig  `yaml:"captions"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Quotas    QuotaConfig     `yaml:"quotas"`
}

type StorageConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type ProvidersConfig struct {
	// Mode "mock" swaps every external backend for the in-process mocks.
	Mode string `yaml:"mode"`

	TextBackend    string `yaml:"text_backend"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`
	OpenAIBaseURL  string `yaml:"openai_base_url"`
	OpenAIModel    string `yaml:"openai_model"`
	OpenAITTSModel string `yaml:"openai_tts_model"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	GeminiModel    string `yaml:"gemini_model"`

	ElevenLabsAPIKey  string `yaml:"elevenlabs_api_key"`
	ElevenLabsBaseURL string `yaml:"elevenlabs_base_url"`
	ElevenLabsModel   string `yaml:"elevenlabs_model"`

	PexelsAPIKey  string `yaml:"pexels_api_key"`
	PexelsBaseURL string `yaml:"pexels_base_url"`

	ScriptTimeout time.Duration `yaml:"script_timeout"`
	VoiceTimeout  time.Duration `yaml:"voice_timeout"`
	SearchTimeout time.Duration `yaml:"search_timeout"`
	Temperature   float64       `yaml:"temperature"`
}

type MediaConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	ScratchDir string `yaml:"scratch_dir"`
}

type CaptionsConfig struct {
	Dialect string `yaml:"dialect"`
	Style   string `yaml:"style"`
}

type PricingConfig struct {
	SpeechRatePerMinute float64 `yaml:"speech_rate_per_minute"`
	StorageSurcharge    float64 `yaml:"storage_surcharge"`
}

// QuotaConfig holds lifetime generation limits per tier; a negative value is unlimited.
type QuotaConfig struct {
	Free    int `yaml:"free"`
	Pro     int `yaml:"pro"`
	Premium int `yaml:"premium"`
}

func Default() Config {
	return Config{
		Addr:              ":8080",
		JWTSecret:         "dev-change-me",
		LogLevel:          "info",
		MaxConcurrentJobs: 4,
		RequeueAfter:      10 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		Storage: StorageConfig{
			Dir:     "data/media",
			BaseURL: "http://localhost:8080/media",
		},
		Kafka: KafkaConfig{
			Topic:   "video-generation-requests",
			GroupID: "a2v-worker",
		},
		Providers: ProvidersConfig{
			Mode:              "live",
			TextBackend:       "openai",
			OpenAIBaseURL:     "https://api.openai.com/v1",
			OpenAIModel:       "gpt-4o-mini",
			OpenAITTSModel:    "tts-1",
			GeminiModel:       "gemini-1.5-flash",
			ElevenLabsBaseURL: "https://api.elevenlabs.io/v1",
			ElevenLabsModel:   "eleven_multilingual_v2",
			PexelsBaseURL:     "https://api.pexels.com",
			ScriptTimeout:     90 * time.Second,
			VoiceTimeout:      120 * time.Second,
			SearchTimeout:     30 * time.Second,
			Temperature:       0.7,
		},
		Media: MediaConfig{
			FFmpegPath: "ffmpeg",
			ScratchDir: os.TempDir(),
		},
		Captions: CaptionsConfig{
			Dialect: "srt",
			Style:   "plain",
		},
		Pricing: PricingConfig{
			SpeechRatePerMinute: 0.015,
			StorageSurcharge:    0.01,
		},
		Quotas: QuotaConfig{
			Free:    3,
			Pro:     30,
			Premium: -1,
		},
	}
}

// Load layers defaults, the optional YAML file named by A2V_CONFIG_FILE and
// the environment (including a local .env), in that order.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("A2V_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if cfg.MaxConcurrentJobs < 1 {
		return Config{}, fmt.Errorf("max concurrent jobs must be positive, got %d", cfg.MaxConcurrentJobs)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = env("A2V_SERVER_ADDR", cfg.Addr)
	cfg.JWTSecret = env("A2V_JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = env("A2V_LOG_LEVEL", cfg.LogLevel)
	cfg.MaxConcurrentJobs = envInt("A2V_MAX_CONCURRENT_JOBS", cfg.MaxConcurrentJobs)
	cfg.ShutdownTimeout = envDuration("A2V_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.RequeueAfter = envDuration("A2V_REQUEUE_AFTER", cfg.RequeueAfter)
	cfg.CORSOrigins = envList("A2V_CORS_ORIGINS", cfg.CORSOrigins)

	cfg.Storage.Dir = env("A2V_STORAGE_DIR", cfg.Storage.Dir)
	cfg.Storage.BaseURL = env("A2V_STORAGE_BASE_URL", cfg.Storage.BaseURL)
	cfg.Postgres.DSN = env("POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Redis.Addr = env("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = env("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Kafka.Brokers = envList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = env("A2V_KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = env("A2V_KAFKA_GROUP", cfg.Kafka.GroupID)

	p := &cfg.Providers
	p.Mode = env("A2V_PROVIDER_MODE", p.Mode)
	p.TextBackend = env("A2V_TEXT_BACKEND", p.TextBackend)
	p.OpenAIAPIKey = env("OPENAI_API_KEY", p.OpenAIAPIKey)
	p.OpenAIBaseURL = env("OPENAI_BASE_URL", p.OpenAIBaseURL)
	p.OpenAIModel = env("A2V_OPENAI_MODEL", p.OpenAIModel)
	p.OpenAITTSModel = env("A2V_OPENAI_TTS_MODEL", p.OpenAITTSModel)
	p.GeminiAPIKey = env("GEMINI_API_KEY", p.GeminiAPIKey)
	p.GeminiModel = env("A2V_GEMINI_MODEL", p.GeminiModel)
	p.ElevenLabsAPIKey = env("ELEVENLABS_API_KEY", p.ElevenLabsAPIKey)
	p.ElevenLabsBaseURL = env("ELEVENLABS_BASE_URL", p.ElevenLabsBaseURL)
	p.ElevenLabsModel = env("A2V_ELEVENLABS_MODEL", p.ElevenLabsModel)
	p.PexelsAPIKey = env("PEXELS_API_KEY", p.PexelsAPIKey)
	p.PexelsBaseURL = env("PEXELS_BASE_URL", p.PexelsBaseURL)
	p.ScriptTimeout = envDuration("A2V_SCRIPT_TIMEOUT", p.ScriptTimeout)
	p.VoiceTimeout = envDuration("A2V_VOICE_TIMEOUT", p.VoiceTimeout)
	p.SearchTimeout = envDuration("A2V_SEARCH_TIMEOUT", p.SearchTimeout)
	p.Temperature = envFloat("A2V_TEMPERATURE", p.Temperature)

	cfg.Media.FFmpegPath = env("A2V_FFMPEG_PATH", cfg.Media.FFmpegPath)
	cfg.Media.ScratchDir = env("A2V_SCRATCH_DIR", cfg.Media.ScratchDir)
	cfg.Captions.Dialect = env("A2V_CAPTION_DIALECT", cfg.Captions.Dialect)
	cfg.Captions.Style = env("A2V_CAPTION_STYLE", cfg.Captions.Style)
	cfg.Pricing.SpeechRatePerMinute = envFloat("A2V_SPEECH_RATE_PER_MINUTE", cfg.Pricing.SpeechRatePerMinute)
	cfg.Pricing.StorageSurcharge = envFloat("A2V_STORAGE_SURCHARGE", cfg.Pricing.StorageSurcharge)
	cfg.Quotas.Free = envInt("A2V_QUOTA_FREE", cfg.Quotas.Free)
	cfg.Quotas.Pro = envInt("A2V_QUOTA_PRO", cfg.Quotas.Pro)
	cfg.Quotas.Premium = envInt("A2V_QUOTA_PREMIUM", cfg.Quotas.Premium)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
