package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with simple defaults.
type Config struct {
	// HTTP
	ListenAddr string

	// External tools
	YtdlpPath   string
	FFmpegPath  string
	FFprobePath string

	// Storage layout. RawDir holds transient downloads, HLSDir the durable
	// renditions, TempDir scratch space for encoders.
	BaseDir      string
	RawDir       string
	HLSDir       string
	TempDir      string
	MaxStorageGB float64

	// HLS encoding profile
	Bitrates        []int  // kbps ladder, ascending
	SegmentDuration int    // seconds
	PlaylistType    string // "vod"

	// Cleanup
	ReclaimInterval int // minutes; 0 disables the janitor loop

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO 冷备（可选）
	MinioEnabled   bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// parseBitrates parses a comma separated kbps ladder, e.g. "64,128,192,256".
func parseBitrates(raw string, fallback []int) []int {
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	ladder := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v <= 0 {
			return fallback
		}
		ladder = append(ladder, v)
	}
	return ladder
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	baseDir := getEnv("STORAGE_BASE_DIR", "storage")

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		YtdlpPath:   getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		BaseDir:      baseDir,
		RawDir:       getEnv("STORAGE_RAW_DIR", filepath.Join(baseDir, "raw")),
		HLSDir:       getEnv("STORAGE_HLS_DIR", filepath.Join(baseDir, "hls")),
		TempDir:      getEnv("STORAGE_TEMP_DIR", filepath.Join(baseDir, "temp")),
		MaxStorageGB: getEnvFloat("MAX_STORAGE_GB", 100),

		Bitrates:        parseBitrates(getEnv("HLS_BITRATES", ""), []int{64, 128, 192, 256}),
		SegmentDuration: getEnvInt("HLS_SEGMENT_DURATION", 6),
		PlaylistType:    getEnv("HLS_PLAYLIST_TYPE", "vod"),

		ReclaimInterval: getEnvInt("RECLAIM_INTERVAL_MINUTES", 30),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "echofm"),

		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "echofm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
	}
}
