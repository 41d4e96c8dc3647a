package config

import (
	"os"
	"strconv"
)

type Config struct {
	ServerPort  string
	JWTSecret   string
	TokenTTLMin int

	JournalType string // "mysql" or "memory"
	DatabaseURL string

	StorageType      string // "s3" or "local"
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	LocalStoragePath string

	DefaultRateLimit   int
	ChallengeCacheSize int

	// Ledger initialization, applied only on first boot against an empty
	// journal.
	DeployerAddress     string
	ServiceAddress      string
	DefaultStorageLimit uint64
	TreasuryAddress     string
	BaseStorageFee      uint64
	NetworkFee          uint64
	SharingFee          uint64
	MinimumFee          uint64
	DiscountPercentage  uint64
}

func Load() *Config {
	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "change-me-in-production"),
		TokenTTLMin: getEnvInt("TOKEN_TTL_MINUTES", 60),

		JournalType: getEnv("JOURNAL_TYPE", "mysql"),
		DatabaseURL: getEnv("DATABASE_URL", "root:password@tcp(mariadb:3306)/hashvault?parseTime=true"),

		StorageType:      getEnv("STORAGE_TYPE", "s3"),
		S3Endpoint:       getEnv("S3_ENDPOINT", "minio:9000"),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "content"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "/data/content"),

		DefaultRateLimit:   getEnvInt("DEFAULT_RATE_LIMIT", 120),
		ChallengeCacheSize: getEnvInt("CHALLENGE_CACHE_SIZE", 4096),

		DeployerAddress:     getEnv("DEPLOYER_ADDRESS", ""),
		ServiceAddress:      getEnv("SERVICE_ADDRESS", ""),
		DefaultStorageLimit: getEnvUint64("DEFAULT_STORAGE_LIMIT", 1073741824),
		TreasuryAddress:     getEnv("TREASURY_ADDRESS", ""),
		BaseStorageFee:      getEnvUint64("BASE_STORAGE_FEE", 10),
		NetworkFee:          getEnvUint64("NETWORK_FEE", 1000),
		SharingFee:          getEnvUint64("SHARING_FEE", 500),
		MinimumFee:          getEnvUint64("MINIMUM_FEE", 2000),
		DiscountPercentage:  getEnvUint64("DISCOUNT_PERCENTAGE", 0),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}
