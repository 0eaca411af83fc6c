package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Security  SecurityConfig
	Clipboard ClipboardConfig
	WS        WSConfig
	MinIO     MinIOConfig
	CORS      CORSConfig
	Firebase  FirebaseConfig
}

type AppConfig struct {
	Env  string
	Port string
}

// IsProduction reports whether the server runs with APP_ENV=production
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the PostgreSQL connection string
func (d DBConfig) DSN() string {
	return "host=" + d.Host +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" port=" + d.Port +
		" sslmode=" + d.SSLMode +
		" TimeZone=UTC"
}

// URL is the same database in URL form, as golang-migrate wants it
func (d DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type SecurityConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RSAKeyBits        int
	RSAPrivateKeyPath string
	// RevocationStore is "memory" (per process) or "redis" (shared)
	RevocationStore         string
	RevocationSweepInterval time.Duration
}

type ClipboardConfig struct {
	MaxHistory int
	ItemTTL    time.Duration
	MaxSize    int64
}

type WSConfig struct {
	AuthTimeout  time.Duration
	PresenceTTL  time.Duration
	MessageRate  float64
	MessageBurst int
}

type MinIOConfig struct {
	Endpoint  string
	PublicURL string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Enabled   bool
}

type CORSConfig struct {
	Origins []string
}

type FirebaseConfig struct {
	CredentialsFile string
}

const defaultJWTSecret = "default-secret"

// Load reads .env when present, then the process environment. Missing or
// unparsable values fall back to the defaults below.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file, using process environment only")
	}

	return &Config{
		App: AppConfig{
			Env:  getEnv("APP_ENV", "development"),
			Port: getEnv("APP_PORT", "8080"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "clipsync"),
			Password: getEnv("DB_PASSWORD", "clipsync"),
			Name:     getEnv("DB_NAME", "clipsync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        getEnv("JWT_SECRET", defaultJWTSecret),
			AccessExpiry:  getDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
			RefreshExpiry: getDuration("JWT_REFRESH_EXPIRY", 30*24*time.Hour),
		},
		Security: SecurityConfig{
			RateLimitRequests:       getInt("RATE_LIMIT_REQUESTS", 60),
			RateLimitWindow:         getDuration("RATE_LIMIT_WINDOW", time.Minute),
			RSAKeyBits:              getInt("RSA_KEY_BITS", 2048),
			RSAPrivateKeyPath:       getEnv("RSA_PRIVATE_KEY_PATH", ""),
			RevocationStore:         strings.ToLower(getEnv("REVOCATION_STORE", "memory")),
			RevocationSweepInterval: getDuration("REVOCATION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Clipboard: ClipboardConfig{
			MaxHistory: getInt("CLIPBOARD_MAX_HISTORY", 1000),
			ItemTTL:    getDuration("CLIPBOARD_ITEM_TTL", 24*time.Hour),
			MaxSize:    int64(getInt("CLIPBOARD_MAX_SIZE", 10*1024*1024)),
		},
		WS: WSConfig{
			AuthTimeout:  getDuration("WS_AUTH_TIMEOUT", 30*time.Second),
			PresenceTTL:  getDuration("WS_PRESENCE_TTL", 60*time.Second),
			MessageRate:  getFloat("WS_MESSAGE_RATE", 20),
			MessageBurst: getInt("WS_MESSAGE_BURST", 40),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			PublicURL: getEnv("MINIO_PUBLIC_URL", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("MINIO_BUCKET", "clipsync-clips"),
			UseSSL:    getBool("MINIO_USE_SSL", false),
			Enabled:   getBool("MINIO_ENABLED", true),
		},
		CORS: CORSConfig{
			Origins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
	}
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.App.IsProduction() && (c.JWT.Secret == defaultJWTSecret || len(c.JWT.Secret) < 32) {
		errs = append(errs, errors.New("JWT_SECRET must be set to at least 32 bytes in production"))
	}
	switch c.Security.RevocationStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("REVOCATION_STORE %q is not memory or redis", c.Security.RevocationStore))
	}
	if c.Clipboard.MaxHistory < 1 {
		errs = append(errs, errors.New("CLIPBOARD_MAX_HISTORY must be positive"))
	}
	if c.Clipboard.ItemTTL <= 0 {
		errs = append(errs, errors.New("CLIPBOARD_ITEM_TTL must be positive"))
	}
	if c.Security.RateLimitRequests < 1 || c.Security.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
