package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"receiptmanager/utils"
)

const (
	StorageB2     = "b2"
	StorageMinIO  = "minio"
	StorageMemory = "memory"

	MetadataMongo  = "mongo"
	MetadataMemory = "memory"
)

type Config struct {
	Port string
	Env  string

	MongoURI     string
	DatabaseName string

	JWTSecret string
	JWTIssuer string

	StorageBackend  string
	MetadataBackend string

	B2ApplicationKeyID string
	B2ApplicationKey   string
	B2BucketName       string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIORegion    string
	MinIOUseSSL    bool

	MaxFileSize       int64
	UploadConcurrency int
	UploadMaxEdge     int
	UploadJPEGQuality int
	UploadRetention   time.Duration

	SearchResultLimit int

	DownloadURLTTL       time.Duration
	DownloadURLCacheSize int

	RequestListenerEnabled bool

	AllowedOrigins []string
}

var AppConfig *Config

// LoadConfig reads the environment into AppConfig and exits on invalid or
// missing settings.
func LoadConfig() {
	cfg, err := Load()
	if err != nil {
		utils.LogFatal("Invalid configuration", err)
	}
	AppConfig = cfg
	logConfig(cfg)
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DatabaseName: getEnv("DATABASE_NAME", "receiptmanager"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "receiptmanager"),

		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", StorageB2)),
		MetadataBackend: strings.ToLower(getEnv("METADATA_BACKEND", MetadataMongo)),

		B2ApplicationKeyID: firstEnv("B2_APPLICATION_KEY_ID", "B2_KEY_ID", "BACKBLAZE_KEY_ID"),
		B2ApplicationKey:   firstEnv("B2_APPLICATION_KEY", "B2_APP_KEY", "BACKBLAZE_APP_KEY"),
		B2BucketName:       firstEnv("B2_BUCKET_NAME", "B2_BUCKET", "BACKBLAZE_BUCKET"),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "receipts"),
		MinIORegion:    getEnv("MINIO_REGION", ""),
		MinIOUseSSL:    p.getBool("MINIO_USE_SSL", false),

		MaxFileSize:       p.getInt64("MAX_FILE_SIZE", 104857600),
		UploadConcurrency: p.getInt("UPLOAD_CONCURRENCY", 3),
		UploadMaxEdge:     p.getInt("UPLOAD_MAX_EDGE", 2560),
		UploadJPEGQuality: p.getInt("UPLOAD_JPEG_QUALITY", 82),
		UploadRetention:   p.getDuration("UPLOAD_RETENTION", 10*time.Minute),

		SearchResultLimit: p.getInt("SEARCH_RESULT_LIMIT", 200),

		DownloadURLTTL:       p.getDuration("DOWNLOAD_URL_TTL", time.Hour),
		DownloadURLCacheSize: p.getInt("DOWNLOAD_URL_CACHE_SIZE", 512),

		RequestListenerEnabled: p.getBool("REQUEST_LISTENER_ENABLED", true),

		AllowedOrigins: parseStringSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	required := map[string]string{"JWT_SECRET": cfg.JWTSecret}

	switch cfg.StorageBackend {
	case StorageB2:
		required["B2_APPLICATION_KEY_ID"] = cfg.B2ApplicationKeyID
		required["B2_APPLICATION_KEY"] = cfg.B2ApplicationKey
		required["B2_BUCKET_NAME"] = cfg.B2BucketName
	case StorageMinIO:
		required["MINIO_ENDPOINT"] = cfg.MinIOEndpoint
		required["MINIO_ACCESS_KEY"] = cfg.MinIOAccessKey
		required["MINIO_SECRET_KEY"] = cfg.MinIOSecretKey
		required["MINIO_BUCKET"] = cfg.MinIOBucket
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	switch cfg.MetadataBackend {
	case MetadataMongo:
		required["MONGO_URI"] = cfg.MongoURI
	case MetadataMemory:
	default:
		return fmt.Errorf("unknown METADATA_BACKEND %q", cfg.MetadataBackend)
	}

	var missingVars []string
	for key, value := range required {
		if value == "" {
			missingVars = append(missingVars, key)
		}
	}
	if len(missingVars) > 0 {
		sort.Strings(missingVars)
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	if cfg.UploadJPEGQuality < 1 || cfg.UploadJPEGQuality > 100 {
		return fmt.Errorf("UPLOAD_JPEG_QUALITY must be between 1 and 100, got %d", cfg.UploadJPEGQuality)
	}
	return nil
}

func logConfig(cfg *Config) {
	utils.LogInfo("Configuration loaded:")
	utils.LogInfof("  Port: %s", cfg.Port)
	utils.LogInfof("  Environment: %s", cfg.Env)
	utils.LogInfof("  Storage backend: %s", cfg.StorageBackend)
	utils.LogInfof("  Metadata backend: %s", cfg.MetadataBackend)
	utils.LogInfof("  Database: %s", cfg.DatabaseName)
	utils.LogInfof("  MongoDB URI: %s", maskConnectionString(cfg.MongoURI))
	utils.LogInfof("  JWT Secret: %s", maskSecret(cfg.JWTSecret))
	utils.LogInfof("  B2 Key ID: %s", maskSecret(cfg.B2ApplicationKeyID))
	utils.LogInfof("  B2 Bucket: %s", cfg.B2BucketName)
	utils.LogInfof("  MinIO: %s/%s (access key %s)", cfg.MinIOEndpoint, cfg.MinIOBucket, maskSecret(cfg.MinIOAccessKey))
	utils.LogInfof("  Max File Size: %d bytes", cfg.MaxFileSize)
	utils.LogInfof("  Upload Concurrency: %d", cfg.UploadConcurrency)
	utils.LogInfof("  Search Result Limit: %d", cfg.SearchResultLimit)
	utils.LogInfof("  Allowed Origins: %v", cfg.AllowedOrigins)
}

func maskSecret(secret string) string {
	if secret == "" {
		return "[NOT SET]"
	}
	if len(secret) <= 8 {
		return "[HIDDEN]"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

func maskConnectionString(uri string) string {
	if uri == "" {
		return "[NOT SET]"
	}
	if strings.Contains(uri, "@") {
		parts := strings.Split(uri, "@")
		if len(parts) >= 2 {
			return "[CREDENTIALS_HIDDEN]@" + parts[len(parts)-1]
		}
	}
	return uri
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}

func (p *parser) getInt64(key string, def int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return i
}

func (p *parser) getInt(key string, def int) int {
	return int(p.getInt64(key, int64(def)))
}

func (p *parser) getBool(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return b
}

func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return d
}

func CreateContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func parseStringSlice(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	var result []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
