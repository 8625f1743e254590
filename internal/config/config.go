package config

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the API service. The signing secret
// and database handle are injected into constructors rather than read from
// package globals, so tests can run isolated instances.
type Config struct {
	Environment        string        `env:"APP_ENV,default=development"`
	Addr               string        `env:"API_ADDR,default=:5001"`
	DatabaseURL        string        `env:"DATABASE_URL,default=postgres://localhost/smail_dev?sslmode=disable"`
	MigrationsDir      string        `env:"DB_MIGRATIONS_DIR,default=db/migrations"`
	JWTSecret          string        `env:"SECRET_KEY,default=your-secret-key-change-in-production"`
	TokenTTL           time.Duration `env:"TOKEN_TTL,default=0"`
	AllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`
	RateLimitRedisAddr string        `env:"RATE_LIMIT_REDIS_ADDR"`
	RateLimitRedisPass string        `env:"RATE_LIMIT_REDIS_PASSWORD"`
	RateLimitRedisDB   int           `env:"RATE_LIMIT_REDIS_DB,default=0"`
}

// Load reads configuration from the environment, first merging in a local
// .env file when one exists.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
