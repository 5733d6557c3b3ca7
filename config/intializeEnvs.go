package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	godotenv "github.com/joho/godotenv"
)

// Config is built once at process start and handed to every component.
type Config struct {
	AppEnv   string
	LogLevel string

	// Storage and addressing
	StorageBackend  string
	BucketName      string
	Namespace       string
	CDNBaseURL      string
	ProviderDomain  string
	RawScheme       string
	StorageRegion   string
	RegionAwareURLs bool
	StorageEndpoint string
	HashAlgorithm   string
	HashMode        string

	// Transcoding defaults and limits
	DefaultQuality   int
	MaxWidth         int
	MaxHeight        int
	AllowedMIMETypes []string
	MaxUploadBytes   int64
	VariantsFile     string
	FFmpegPath       string

	// Filesystem
	UploadDir  string
	ScratchDir string

	// Scheduling
	VariantParallelism int
	BatchWidth         int
	BatchDeadline      time.Duration
	CheckpointPath     string
	NetworkTimeout     time.Duration
	RetryAttempts      int
	RetryBaseDelay     time.Duration

	// Optional collaborators
	RedisAddr     string
	RedisIndexTTL time.Duration
	RabbitMqURL   string
	RabbitMqQueue string
	WorkerCount   int
	HTTPAddr      string
}

var DefaultAllowedMIMETypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/gif",
	"image/avif",
	"image/heic",
	"image/bmp",
	"image/tiff",
}

// Defaults returns a Config usable without any environment, mainly for
// tests and the memory backend.
func Defaults() *Config {
	return &Config{
		AppEnv:             "dev",
		LogLevel:           "info",
		StorageBackend:     "s3",
		Namespace:          "images",
		ProviderDomain:     "googleapis.com",
		RawScheme:          "gs",
		HashAlgorithm:      "sha256",
		HashMode:           "content",
		DefaultQuality:     80,
		MaxWidth:           4096,
		MaxHeight:          4096,
		AllowedMIMETypes:   DefaultAllowedMIMETypes,
		MaxUploadBytes:     20 << 20,
		FFmpegPath:         "ffmpeg",
		UploadDir:          "uploads",
		ScratchDir:         os.TempDir(),
		VariantParallelism: 3,
		BatchWidth:         5,
		BatchDeadline:      2 * time.Hour,
		CheckpointPath:     "batch-progress.json",
		NetworkTimeout:     30 * time.Second,
		RetryAttempts:      3,
		RetryBaseDelay:     500 * time.Millisecond,
		RedisIndexTTL:      7 * 24 * time.Hour,
		RabbitMqQueue:      "variant_queue",
		WorkerCount:        2,
		HTTPAddr:           ":8080",
	}
}

func loadEnvFile() {
	switch os.Getenv("APP_ENV") {
	case "docker":
		if err := godotenv.Overload(".env.docker"); err == nil {
			log.Println("Loaded .env.docker")
		} else {
			log.Println(".env.docker not found, using existing environment")
		}
	case "dev", "":
		if err := godotenv.Overload(".env.dev"); err == nil {
			log.Println("Loaded .env.dev")
		} else if err := godotenv.Overload(".env"); err == nil {
			log.Println("Loaded .env")
		} else {
			log.Println("No .env.dev or .env found, using system environment variables")
		}
	default:
		fname := ".env." + os.Getenv("APP_ENV")
		if err := godotenv.Overload(fname); err == nil {
			log.Printf("Loaded %s", fname)
		} else if err := godotenv.Overload(".env"); err == nil {
			log.Println("Loaded .env")
		} else {
			log.Printf("No %s or .env found, using system environment variables", fname)
		}
	}
}

func InitializeEnvs() (*Config, error) {
	loadEnvFile()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests don't touch the
// process environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Defaults()
	p := envParser{getenv: getenv}

	cfg.AppEnv = p.str("APP_ENV", cfg.AppEnv)
	cfg.LogLevel = p.str("LOG_LEVEL", cfg.LogLevel)
	cfg.StorageBackend = strings.ToLower(p.str("STORAGE_BACKEND", cfg.StorageBackend))
	cfg.BucketName = p.str("BUCKET_NAME", p.str("AWS_BUCKET_NAME", ""))
	cfg.Namespace = strings.Trim(p.str("NAMESPACE", cfg.Namespace), "/")
	cfg.CDNBaseURL = strings.TrimRight(p.str("CDN_BASE_URL", ""), "/")
	cfg.ProviderDomain = p.str("STORAGE_PROVIDER_DOMAIN", cfg.ProviderDomain)
	cfg.RawScheme = p.str("STORAGE_RAW_SCHEME", cfg.RawScheme)
	cfg.StorageRegion = p.str("STORAGE_REGION", p.str("AWS_REGION", ""))
	cfg.RegionAwareURLs = p.boolean("REGION_AWARE_URLS", false)
	cfg.StorageEndpoint = p.str("STORAGE_ENDPOINT", "")
	cfg.HashAlgorithm = strings.ToLower(p.str("HASH_ALGORITHM", cfg.HashAlgorithm))
	cfg.HashMode = strings.ToLower(p.str("HASH_MODE", cfg.HashMode))

	cfg.DefaultQuality = p.integer("DEFAULT_QUALITY", cfg.DefaultQuality)
	cfg.MaxWidth = p.integer("MAX_WIDTH", cfg.MaxWidth)
	cfg.MaxHeight = p.integer("MAX_HEIGHT", cfg.MaxHeight)
	cfg.MaxUploadBytes = int64(p.integer("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	if allowed := p.str("ALLOWED_MIME_TYPES", ""); allowed != "" {
		cfg.AllowedMIMETypes = splitList(allowed)
	}
	cfg.VariantsFile = p.str("VARIANTS_FILE", "")
	cfg.FFmpegPath = p.str("FFMPEG_PATH", cfg.FFmpegPath)

	cfg.UploadDir = p.str("UPLOAD_DIR", cfg.UploadDir)
	cfg.ScratchDir = p.str("SCRATCH_DIR", cfg.ScratchDir)

	cfg.VariantParallelism = p.integer("VARIANT_PARALLELISM", cfg.VariantParallelism)
	cfg.BatchWidth = p.integer("BATCH_WIDTH", cfg.BatchWidth)
	cfg.BatchDeadline = p.duration("BATCH_DEADLINE", cfg.BatchDeadline)
	cfg.CheckpointPath = p.str("CHECKPOINT_PATH", cfg.CheckpointPath)
	cfg.NetworkTimeout = p.duration("NETWORK_TIMEOUT", cfg.NetworkTimeout)
	cfg.RetryAttempts = p.integer("RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryBaseDelay = p.duration("RETRY_BASE_DELAY", cfg.RetryBaseDelay)

	cfg.RedisAddr = p.str("REDIS_ADDR", "")
	cfg.RedisIndexTTL = p.duration("REDIS_INDEX_TTL", cfg.RedisIndexTTL)
	cfg.RabbitMqURL = p.str("RABBITMQ_URL", "")
	cfg.RabbitMqQueue = p.str("RABBITMQ_QUEUE", cfg.RabbitMqQueue)
	cfg.WorkerCount = p.integer("WORKER_COUNT", cfg.WorkerCount)
	cfg.HTTPAddr = p.str("HTTP_ADDR", cfg.HTTPAddr)

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(p.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.BucketName == "" {
		missing = append(missing, "BUCKET_NAME")
	}
	if c.CDNBaseURL == "" {
		missing = append(missing, "CDN_BASE_URL")
	}
	if c.StorageBackend == "s3" && c.StorageRegion == "" {
		missing = append(missing, "AWS_REGION")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s is missing", strings.Join(missing, " or "))
	}

	switch c.StorageBackend {
	case "s3", "memory":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be s3 or memory, got %q", c.StorageBackend)
	}
	switch c.HashAlgorithm {
	case "sha256", "blake3":
	default:
		return fmt.Errorf("HASH_ALGORITHM must be sha256 or blake3, got %q", c.HashAlgorithm)
	}
	switch c.HashMode {
	case "content", "content+metadata":
	default:
		return fmt.Errorf("HASH_MODE must be content or content+metadata, got %q", c.HashMode)
	}
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return fmt.Errorf("DEFAULT_QUALITY must be within 1-100, got %d", c.DefaultQuality)
	}
	if c.VariantParallelism < 1 || c.BatchWidth < 1 || c.RetryAttempts < 1 || c.WorkerCount < 1 {
		return fmt.Errorf("VARIANT_PARALLELISM, BATCH_WIDTH, RETRY_ATTEMPTS and WORKER_COUNT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.RedisIndexTTL <= 0 {
		return fmt.Errorf("REDIS_INDEX_TTL must be positive")
	}
	return nil
}

// IsAllowedMIME checks the upload allow-list.
func (c *Config) IsAllowedMIME(mime string) bool {
	for _, m := range c.AllowedMIMETypes {
		if strings.EqualFold(m, mime) {
			return true
		}
	}
	return false
}

type envParser struct {
	getenv func(string) string
	errs   []string
}

func (p *envParser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *envParser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func (p *envParser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return b
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
