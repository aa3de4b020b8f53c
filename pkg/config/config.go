// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Public base URL of this service; used to build the queryUrl/paymentsUrl
	// handed to the platform during provider registration.
	BasePublicURL string

	// Postgres & Redis (both optional in dev)
	DatabaseURL string
	RedisURL    string
	DBMaxConns  int // zero keeps the pgxpool default

	// Secret cipher inputs. The derived key is built once in main.
	EncryptionKey  string
	EncryptionSalt string

	// Platform OAuth app
	PlatformAPIURL       string
	PlatformClientID     string
	PlatformClientSecret string
	PlatformAppID        string
	PlatformTimeout      time.Duration

	ProviderManifest string // optional YAML file
	EventPolicyFile  string // optional Rego module

	CustomerLockTTL time.Duration

	// Comma-separated origins allowed to call the checkout API; empty allows any.
	CheckoutOrigins string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                  env("PAYBROKER_ENV", "dev"),
		HTTPAddr:             env("PAYBROKER_HTTP_ADDR", ":8080"),
		BasePublicURL:        strings.TrimRight(env("BASE_PUBLIC_URL", "http://localhost:8080"), "/"),
		DatabaseURL:          env("DATABASE_URL", ""),
		RedisURL:             env("REDIS_URL", ""),
		DBMaxConns:           envInt("DB_MAX_CONNS", 0),
		EncryptionKey:        env("ENCRYPTION_KEY", ""),
		EncryptionSalt:       env("ENCRYPTION_SALT", "salt"),
		PlatformAPIURL:       strings.TrimRight(env("PLATFORM_API_URL", "https://services.leadconnectorhq.com"), "/"),
		PlatformClientID:     env("PLATFORM_CLIENT_ID", ""),
		PlatformClientSecret: env("PLATFORM_CLIENT_SECRET", ""),
		PlatformAppID:        env("PLATFORM_APP_ID", ""),
		PlatformTimeout:      envDur("PLATFORM_TIMEOUT_SEC", 15) * time.Second,
		ProviderManifest:     env("PROVIDER_MANIFEST", ""),
		EventPolicyFile:      env("EVENT_POLICY_FILE", ""),
		CustomerLockTTL:      envDur("CUSTOMER_LOCK_TTL_SEC", 10) * time.Second,
		CheckoutOrigins:      env("CHECKOUT_ORIGINS", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory credential store for dev")
	}
	if cfg.EncryptionKey == "" {
		log.Println("[WARN] ENCRYPTION_KEY not set, tenant secrets cannot be stored")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil && i > 0 {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}

// Prod reports whether the service runs with production defaults.
func (c Config) Prod() bool { return envBool("PAYBROKER_PROD", c.Env == "prod") }
