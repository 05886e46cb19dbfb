package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CLIPSHARE"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DatabaseDriverSQLite
	defaultDatabasePath    = "clipshare.db"
	defaultLogLevel        = "info"
	defaultLogEncoding     = "json"
	defaultCookieName      = "clipshare_session"
	defaultTokenTTLMinutes = 24 * 60
	defaultMaxUploadBytes  = 50 << 20
	defaultStorageBackend  = StorageBackendLocal
	defaultLocalStorageDir = "uploads"
	defaultAdminName       = "Admin"
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"

	StorageBackendLocal    = "local"
	StorageBackendS3       = "s3"
	StorageBackendDatabase = "database"
)

var defaultAllowedFormats = []string{"video/mp4", "video/webm", "video/quicktime"}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	LogLevel       string
	LogEncoding    string

	SigningSecret string
	CookieName    string
	CookieSecure  bool
	TokenTTL      time.Duration

	MaxUploadBytes int64
	AllowedFormats []string

	Storage StorageConfig

	AdminEmail    string
	AdminPassword string
	AdminName     string

	AllowedOrigins []string
}

// StorageConfig selects and configures the media backend.
type StorageConfig struct {
	Backend  string
	LocalDir string
	S3       S3Config
}

// S3Config configures an S3-compatible object store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.cookie_secure", false)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("upload.max_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("upload.allowed_formats", defaultAllowedFormats)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.local.dir", defaultLocalStorageDir)
	configViper.SetDefault("storage.s3.bucket", "")
	configViper.SetDefault("storage.s3.region", "")
	configViper.SetDefault("storage.s3.endpoint", "")
	configViper.SetDefault("storage.s3.access_key_id", "")
	configViper.SetDefault("storage.s3.secret_access_key", "")
	configViper.SetDefault("storage.s3.public_base_url", "")
	configViper.SetDefault("admin.email", "")
	configViper.SetDefault("admin.password", "")
	configViper.SetDefault("admin.name", defaultAdminName)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		LogEncoding:    configViper.GetString("log.encoding"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		CookieSecure:   configViper.GetBool("auth.cookie_secure"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		MaxUploadBytes: configViper.GetInt64("upload.max_bytes"),
		AllowedFormats: splitList(configViper.GetStringSlice("upload.allowed_formats")),
		Storage: StorageConfig{
			Backend:  strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
			LocalDir: configViper.GetString("storage.local.dir"),
			S3: S3Config{
				Bucket:          configViper.GetString("storage.s3.bucket"),
				Region:          configViper.GetString("storage.s3.region"),
				Endpoint:        configViper.GetString("storage.s3.endpoint"),
				AccessKeyID:     configViper.GetString("storage.s3.access_key_id"),
				SecretAccessKey: configViper.GetString("storage.s3.secret_access_key"),
				PublicBaseURL:   strings.TrimRight(configViper.GetString("storage.s3.public_base_url"), "/"),
			},
		},
		AdminEmail:     strings.TrimSpace(configViper.GetString("admin.email")),
		AdminPassword:  configViper.GetString("admin.password"),
		AdminName:      configViper.GetString("admin.name"),
		AllowedOrigins: splitList(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}

	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}

	switch c.Storage.Backend {
	case StorageBackendLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return fmt.Errorf("storage.local.dir is required for the local backend")
		}
	case StorageBackendS3:
		if strings.TrimSpace(c.Storage.S3.Bucket) == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
		if strings.TrimSpace(c.Storage.S3.PublicBaseURL) == "" {
			return fmt.Errorf("storage.s3.public_base_url is required for the s3 backend")
		}
	case StorageBackendDatabase:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("admin.email and admin.password must be set together")
	}
	return nil
}

// splitList flattens comma separated entries so env values like "a,b" behave like lists.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
