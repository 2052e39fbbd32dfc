package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Storage  StorageConfig
	TTS      TTSConfig
	Show     ShowConfig
	Camera   CameraConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	WebhookSecret      string // shared secret expected in X-Webhook-Token; empty disables the check
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are issued by the account service.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket for synthesized stunt audio.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	AudioBucket          string
	PresignExpireMinutes int
}

// StorageConfig selects where audio artifacts go. Driver is "s3" or "local".
type StorageConfig struct {
	Driver    string
	LocalDir  string
	PublicURL string // URL prefix under which LocalDir is served
	MaxAge    time.Duration
}

// TTSConfig configures the ElevenLabs speech client.
type TTSConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Timeout time.Duration
}

// ShowConfig holds the live-show quotas and retention.
type ShowConfig struct {
	StuntLimit        int
	MessagesPerMinute int
	LikesPerMinute    int
	MessageRetention  time.Duration
	AutoPollDuration  time.Duration
	RateLimitBackend  string // "memory" or "redis"
	CleanupInterval   time.Duration
	AnalyzerMinScore  float64
	AnalyzerCooldown  time.Duration // minimum gap between automatic polls
}

// CameraConfig holds capture and streaming parameters.
type CameraConfig struct {
	FFmpegPath      string
	CaptureFPS      int
	StreamFPS       int
	FrameWidth      int
	FrameHeight     int
	SnapshotQuality int
	StreamQuality   int
	RetryBackoff    time.Duration
	Autostart       bool
}

// WorkerConfig controls the speech job worker.
type WorkerConfig struct {
	InProcess bool   // run the stunt worker inside the server process
	QueueMode string // "redis" or "memory"
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "moedor"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AudioBucket:          getEnv("AWS_S3_AUDIO_BUCKET", "moedor-stunt-audio"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
		Storage: StorageConfig{
			Driver:    getEnv("STORAGE_DRIVER", "local"),
			LocalDir:  getEnv("STORAGE_LOCAL_DIR", "static/audio"),
			PublicURL: getEnv("STORAGE_PUBLIC_URL", "/static/audio"),
			MaxAge:    getEnvDuration("STORAGE_MAX_AGE", 24*time.Hour),
		},
		TTS: TTSConfig{
			APIKey:  getEnv("ELEVENLABS_API_KEY", ""),
			VoiceID: getEnv("ELEVENLABS_VOICE_ID", "CY9SQTU8fYN5MZMw15Ma"),
			ModelID: getEnv("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
			BaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
			Timeout: getEnvDuration("ELEVENLABS_TIMEOUT", 30*time.Second),
		},
		Show: ShowConfig{
			StuntLimit:        getEnvInt("STUNT_LIMIT", 3),
			MessagesPerMinute: getEnvInt("MESSAGES_PER_MINUTE", 1),
			LikesPerMinute:    getEnvInt("LIKES_PER_MINUTE", 10),
			MessageRetention:  getEnvDuration("MESSAGE_RETENTION", 7*24*time.Hour),
			AutoPollDuration:  getEnvDuration("AUTO_POLL_DURATION", 10*time.Minute),
			RateLimitBackend:  getEnv("RATE_LIMIT_BACKEND", "memory"),
			CleanupInterval:   getEnvDuration("CLEANUP_INTERVAL", time.Hour),
			AnalyzerMinScore:  getEnvFloat("ANALYZER_MIN_SCORE", 0.3),
			AnalyzerCooldown:  getEnvDuration("ANALYZER_COOLDOWN", 2*time.Minute),
		},
		Camera: CameraConfig{
			FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
			CaptureFPS:      getEnvInt("CAMERA_CAPTURE_FPS", 30),
			StreamFPS:       getEnvInt("CAMERA_STREAM_FPS", 15),
			FrameWidth:      getEnvInt("CAMERA_FRAME_WIDTH", 640),
			FrameHeight:     getEnvInt("CAMERA_FRAME_HEIGHT", 480),
			SnapshotQuality: getEnvInt("CAMERA_SNAPSHOT_QUALITY", 80),
			StreamQuality:   getEnvInt("CAMERA_STREAM_QUALITY", 70),
			RetryBackoff:    getEnvDuration("CAMERA_RETRY_BACKOFF", time.Second),
			Autostart:       getEnvBool("CAMERA_AUTOSTART", true),
		},
		Worker: WorkerConfig{
			InProcess: getEnvBool("WORKER_IN_PROCESS", true),
			QueueMode: getEnv("QUEUE_MODE", "redis"),
		},
	}
	if cfg.Show.StuntLimit <= 0 {
		return nil, fmt.Errorf("STUNT_LIMIT must be positive, got %d", cfg.Show.StuntLimit)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
