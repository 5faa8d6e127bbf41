package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the tenantedge services.
type Config struct {
	Environment   string `env:"APP_ENV" envDefault:"development"`
	Addr          string `env:"API_ADDR" envDefault:":4000"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"postgres://tenantedge:tenantedge@db:5432/tenantedge?sslmode=disable"`
	MigrationsDir string `env:"DB_MIGRATIONS_DIR"`

	BaseDomain      string   `env:"BASE_DOMAIN" envDefault:"adminimobiliaria.site"`
	ReservedLabels  []string `env:"RESERVED_LABELS" envSeparator:"," envDefault:"admin"`
	DevHostSuffixes []string `env:"DEV_HOST_SUFFIXES" envSeparator:"," envDefault:".app.github.dev,.gitpod.io,.codespaces.github.com,.localhost"`
	IngressIP       string   `env:"INGRESS_IP" envDefault:"162.159.140.98"`

	ResolverCacheTTL      time.Duration `env:"RESOLVER_CACHE_TTL" envDefault:"5m"`
	RemoteResolverURL     string        `env:"REMOTE_RESOLVER_URL"`
	RemoteResolverToken   string        `env:"REMOTE_RESOLVER_TOKEN"`
	RemoteResolverTimeout time.Duration `env:"REMOTE_RESOLVER_TIMEOUT" envDefault:"2s"`
	LocalResolverTimeout  time.Duration `env:"LOCAL_RESOLVER_TIMEOUT" envDefault:"3s"`

	DNSProvider       string        `env:"DNS_PROVIDER" envDefault:"digitalocean"`
	DOAccessToken     string        `env:"DO_ACCESS_TOKEN"`
	DOAPIURL          string        `env:"DO_API_URL" envDefault:"https://api.digitalocean.com"`
	AWSRegion         string        `env:"AWS_REGION" envDefault:"us-east-1"`
	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
	ProviderSignature string        `env:"PROVIDER_NS_SIGNATURE"`

	NSCheckMode      string        `env:"NS_CHECK_MODE" envDefault:"doh"`
	DoHURL           string        `env:"DOH_URL" envDefault:"https://dns.google/resolve"`
	DNSServer        string        `env:"DNS_SERVER" envDefault:"8.8.8.8:53"`
	NSLookupTimeout  time.Duration `env:"NS_LOOKUP_TIMEOUT" envDefault:"5s"`
	SiteCheckTimeout time.Duration `env:"SITE_CHECK_TIMEOUT" envDefault:"10s"`

	VerifyMaxAttempts int           `env:"VERIFY_MAX_ATTEMPTS" envDefault:"288"`
	VerifyInterval    time.Duration `env:"VERIFY_INTERVAL" envDefault:"5m"`
	VerifyZoneDelay   time.Duration `env:"VERIFY_ZONE_DELAY" envDefault:"1s"`
	VerifyEmbedded    bool          `env:"VERIFY_EMBEDDED" envDefault:"false"`
	VerifyLockTTL     time.Duration `env:"VERIFY_LOCK_TTL" envDefault:"10m"`

	CronToken      string   `env:"CRON_TOKEN"`
	AdminToken     string   `env:"ADMIN_TOKEN"`
	AllowedOrigins []string `env:"ADMIN_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	SiteBackendURL string   `env:"SITE_BACKEND_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	NginxConfigPath    string `env:"NGINX_CONFIG_PATH"`
	NginxReloadCommand string `env:"NGINX_RELOAD_COMMAND" envDefault:"nginx -s reload"`
	NginxContainerName string `env:"NGINX_CONTAINER_NAME"`
	IngressUpstream    string `env:"INGRESS_UPSTREAM" envDefault:"http://site:3000"`
}

// Load reads optional dotenv files and parses the environment into a Config.
func Load() (Config, error) {
	if err := loadEnvFiles(".env", ".env.local"); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that would make the services misbehave.
func (c Config) Validate() error {
	var errs []error
	if c.BaseDomain == "" {
		errs = append(errs, errors.New("BASE_DOMAIN is required"))
	}
	if c.VerifyMaxAttempts <= 0 {
		errs = append(errs, errors.New("VERIFY_MAX_ATTEMPTS must be positive"))
	}
	if c.ResolverCacheTTL < 0 {
		errs = append(errs, errors.New("RESOLVER_CACHE_TTL must not be negative"))
	}
	switch c.NSCheckMode {
	case "doh", "dns":
	default:
		errs = append(errs, fmt.Errorf("NS_CHECK_MODE %q must be doh or dns", c.NSCheckMode))
	}
	switch c.DNSProvider {
	case "", "none", "digitalocean", "route53", "memory":
	default:
		errs = append(errs, fmt.Errorf("DNS_PROVIDER %q is not supported", c.DNSProvider))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) normalize() {
	c.BaseDomain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(c.BaseDomain)), ".")
	c.DNSProvider = strings.ToLower(strings.TrimSpace(c.DNSProvider))
	c.NSCheckMode = strings.ToLower(strings.TrimSpace(c.NSCheckMode))
	c.ReservedLabels = cleanList(c.ReservedLabels)
	c.DevHostSuffixes = cleanList(c.DevHostSuffixes)
	c.AllowedOrigins = cleanList(c.AllowedOrigins)
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func loadEnvFiles(files ...string) error {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}
