package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config carries every tunable the service reads at boot. Values come from
// the environment, with an optional .env file for local runs. Thresholds and
// weights are injected here rather than compiled into the analysis packages.
type Config struct {
	Port     string `validate:"required"`
	LogLevel string

	APIUser     string
	APISecret   string
	JWTSecret   string
	JWTAudience string

	RedisAddr   string
	DatabaseDSN string

	MaxUploadBytes int64 `validate:"gt=0"`
	MaxImageDim    int   `validate:"gte=64"`
	TargetImageDim int   `validate:"gte=64"`

	TamperHighThreshold float64 `validate:"gt=0,lte=1,gtfield=TamperLowThreshold"`
	TamperLowThreshold  float64 `validate:"gte=0"`
	CompressionWeight   float64 `validate:"gte=0"`
	CopyMoveWeight      float64 `validate:"gte=0"`
	MetadataWeight      float64 `validate:"gte=0"`
	RecompressQuality   int     `validate:"gte=1,lte=100"`

	FaceCascadePath   string
	MinFaceConfidence float64 `validate:"gte=0,lte=1"`

	GalleryPath    string  `validate:"required"`
	EmbeddingDim   int     `validate:"gt=0"`
	MatchThreshold float64 `validate:"gte=-1,lte=1"`
}

// Load reads the environment (and a .env file when present) and validates
// the resulting configuration.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		APIUser:     os.Getenv("IMAGE_DETECTION_API_USER"),
		APISecret:   os.Getenv("IMAGE_DETECTION_API_SECRET"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		FaceCascadePath: os.Getenv("FACE_CASCADE_PATH"),
		GalleryPath:     getEnv("GALLERY_PATH", "./gallery"),
	}

	var err error
	if cfg.MaxUploadBytes, err = int64Env("MAX_UPLOAD_BYTES", 10<<20); err != nil {
		return nil, err
	}
	if cfg.MaxImageDim, err = intEnv("MAX_IMAGE_DIM", 8192); err != nil {
		return nil, err
	}
	if cfg.TargetImageDim, err = intEnv("TARGET_IMAGE_DIM", 1024); err != nil {
		return nil, err
	}
	if cfg.TamperHighThreshold, err = floatEnv("TAMPER_HIGH_THRESHOLD", 0.50); err != nil {
		return nil, err
	}
	if cfg.TamperLowThreshold, err = floatEnv("TAMPER_LOW_THRESHOLD", 0.25); err != nil {
		return nil, err
	}
	if cfg.CompressionWeight, err = floatEnv("TAMPER_WEIGHT_COMPRESSION", 0.4); err != nil {
		return nil, err
	}
	if cfg.CopyMoveWeight, err = floatEnv("TAMPER_WEIGHT_COPYMOVE", 0.4); err != nil {
		return nil, err
	}
	if cfg.MetadataWeight, err = floatEnv("TAMPER_WEIGHT_METADATA", 0.2); err != nil {
		return nil, err
	}
	if cfg.RecompressQuality, err = intEnv("RECOMPRESS_QUALITY", 75); err != nil {
		return nil, err
	}
	if cfg.MinFaceConfidence, err = floatEnv("FACE_MIN_CONFIDENCE", 0.9); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDim, err = intEnv("EMBEDDING_DIM", 128); err != nil {
		return nil, err
	}
	if cfg.MatchThreshold, err = floatEnv("MATCH_THRESHOLD", 0.82); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if err := validateEmbeddingDim(cfg.EmbeddingDim); err != nil {
		return nil, err
	}
	if cfg.CompressionWeight+cfg.CopyMoveWeight+cfg.MetadataWeight <= 0 {
		return nil, fmt.Errorf("config validation: tamper check weights sum to zero")
	}
	return cfg, nil
}

// validateEmbeddingDim enforces the descriptor layout contract: eight
// orientation bins over a square cell grid, so the dimension must be
// 8 * n * n for some integer n.
func validateEmbeddingDim(dim int) error {
	if dim <= 0 {
		return fmt.Errorf("config validation: EMBEDDING_DIM must be positive, got %d", dim)
	}
	if dim%8 != 0 {
		return fmt.Errorf("config validation: EMBEDDING_DIM %d is not a multiple of 8", dim)
	}
	cells := dim / 8
	side := int(math.Sqrt(float64(cells)))
	if side*side != cells {
		return fmt.Errorf("config validation: EMBEDDING_DIM %d does not map to a square cell grid", dim)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return value, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return value, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return value, nil
}
