package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Environment string      `mapstructure:"environment"`
	LogLevel    int         `mapstructure:"log_level"`
	Server      Server      `mapstructure:"server"`
	Database    Database    `mapstructure:"database"`
	JWT         JWT         `mapstructure:"jwt"`
	CORS        CORS        `mapstructure:"cors"`
	S3          S3          `mapstructure:"s3"`
	LakeFS      LakeFS      `mapstructure:"lakefs"`
	LFS         LFS         `mapstructure:"lfs"`
	Quota       Quota       `mapstructure:"quota"`
	Admin       Admin       `mapstructure:"admin"`
	Redis       Redis       `mapstructure:"redis"`
	Application Application `mapstructure:"application"`
}

type Server struct {
	Port int `mapstructure:"port"`
}

// Database selects and configures the relational store. Driver is
// "postgres" or "sqlite"; DSN is used verbatim for sqlite (a file path,
// or ":memory:" for tests).
type Database struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	DSN      string `mapstructure:"dsn"`
}

type JWT struct {
	Secret         string `mapstructure:"secret"`
	ExpirationHour int    `mapstructure:"expiration_hour"`
}

type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// S3 configures the LFS/blob-content object store.
type S3 struct {
	Backend         string `mapstructure:"backend"` // "s3" or "azure"
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	EndpointURL     string `mapstructure:"endpoint_url"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`

	AzureAccountName   string `mapstructure:"azure_account_name"`
	AzureAccountKey    string `mapstructure:"azure_account_key"`
	AzureContainerName string `mapstructure:"azure_container_name"`
}

// LakeFS configures the versioned-object adapter.
type LakeFS struct {
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	RepoNamespace string `mapstructure:"repo_namespace"`
}

// LFS holds the global defaults for the rules resolved per-repo in
// internal/naming (threshold, suffix patterns, keep_versions).
type LFS struct {
	ThresholdBytes     int64    `mapstructure:"threshold_bytes"`
	MultipartThreshold int64    `mapstructure:"multipart_threshold_bytes"`
	SuffixPatterns     []string `mapstructure:"suffix_patterns"`
	KeepVersions       int      `mapstructure:"keep_versions"`
	AutoGC             bool     `mapstructure:"auto_gc"`
}

// Quota holds default per-namespace byte ceilings; nil/0 means unlimited
// when resolved through a *int64 in the metadata layer.
type Quota struct {
	DefaultPrivateBytes int64 `mapstructure:"default_private_bytes"`
	DefaultPublicBytes  int64 `mapstructure:"default_public_bytes"`
}

type Admin struct {
	TokenHashHex string `mapstructure:"token_hash_hex"` // SHA3-512 hex of the admin token
}

// Redis backs the GC distributed lock (internal/gc) that keeps concurrent
// commits to the same repo+path from racing cleanup_lfs_object.
type Redis struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type Application struct {
	BaseURL string `mapstructure:"base_url"`
	Name    string `mapstructure:"name"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", 4)
	viper.SetDefault("server.port", 28080)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "kohaku")
	viper.SetDefault("database.password", "kohaku")
	viper.SetDefault("database.dbname", "kohakuhub")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.dsn", "kohakuhub.db")
	viper.SetDefault("jwt.secret", "change-me")
	viper.SetDefault("jwt.expiration_hour", 24)
	viper.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("s3.backend", "s3")
	viper.SetDefault("s3.bucket", "kohakuhub")
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.force_path_style", true)
	viper.SetDefault("lakefs.endpoint", "http://localhost:8000")
	viper.SetDefault("lakefs.repo_namespace", "hub")
	viper.SetDefault("lfs.threshold_bytes", 10*1024*1024)
	viper.SetDefault("lfs.multipart_threshold_bytes", 5*1024*1024*1024)
	viper.SetDefault("lfs.suffix_patterns", []string{"*.safetensors", "*.bin", "*.pt", "*.ckpt", "*.gguf", "*.h5"})
	viper.SetDefault("lfs.keep_versions", 5)
	viper.SetDefault("lfs.auto_gc", true)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("application.base_url", "http://localhost:28080")
	viper.SetDefault("application.name", "KohakuHub")

	viper.AutomaticEnv()

	viper.BindEnv("environment", "ENVIRONMENT")
	viper.BindEnv("log_level", "LOG_LEVEL")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.driver", "DB_DRIVER")
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")
	viper.BindEnv("database.dsn", "DB_DSN")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("jwt.expiration_hour", "JWT_EXPIRATION_HOUR")
	viper.BindEnv("s3.backend", "S3_BACKEND")
	viper.BindEnv("s3.bucket", "S3_BUCKET")
	viper.BindEnv("s3.region", "S3_REGION")
	viper.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	viper.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	viper.BindEnv("s3.endpoint_url", "S3_ENDPOINT_URL")
	viper.BindEnv("s3.force_path_style", "S3_FORCE_PATH_STYLE")
	viper.BindEnv("lakefs.endpoint", "LAKEFS_ENDPOINT")
	viper.BindEnv("lakefs.access_key", "LAKEFS_ACCESS_KEY")
	viper.BindEnv("lakefs.secret_key", "LAKEFS_SECRET_KEY")
	viper.BindEnv("lakefs.repo_namespace", "LAKEFS_REPO_NAMESPACE")
	viper.BindEnv("lfs.threshold_bytes", "LFS_THRESHOLD_BYTES")
	viper.BindEnv("lfs.multipart_threshold_bytes", "LFS_MULTIPART_THRESHOLD_BYTES")
	viper.BindEnv("lfs.keep_versions", "LFS_KEEP_VERSIONS")
	viper.BindEnv("lfs.auto_gc", "LFS_AUTO_GC")
	viper.BindEnv("quota.default_private_bytes", "QUOTA_DEFAULT_PRIVATE_BYTES")
	viper.BindEnv("quota.default_public_bytes", "QUOTA_DEFAULT_PUBLIC_BYTES")
	viper.BindEnv("admin.token_hash_hex", "ADMIN_TOKEN_HASH_HEX")
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("application.base_url", "BASE_URL")
	viper.BindEnv("application.name", "APPLICATION_NAME")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
