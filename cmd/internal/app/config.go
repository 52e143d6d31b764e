package app

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is prepended to every variable name, e.g. BOCHAT_HTTP_ADDR.
const envPrefix = "BOCHAT"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr          string        `envconfig:"HTTP_ADDR" default:"0.0.0.0:8080"`
	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"HTTP_MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout   time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`

	CORSAllowedOrigins   []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	CORSAllowCredentials bool     `envconfig:"CORS_ALLOW_CREDENTIALS" default:"false"`
	CORSMaxAgeSeconds    int      `envconfig:"CORS_MAX_AGE_SECONDS" default:"600"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Empty DatabaseURL selects the in-memory message store and ledger.
	DatabaseURL        string `envconfig:"DATABASE_URL"`
	DBSchema           string `envconfig:"DB_SCHEMA" default:"bochat"`
	DBMaxConns         int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns         int32  `envconfig:"DB_MIN_CONNS" default:"0"`
	ReadinessRequireDB bool   `envconfig:"READINESS_REQUIRE_DB" default:"false"`

	// Empty RedisURL selects in-memory bus, queue, presence, award gate and devices.
	RedisURL string `envconfig:"REDIS_URL"`

	// AuthRequired refuses to start without a PASETO public key.
	AuthRequired     bool          `envconfig:"AUTH_REQUIRED" default:"false"`
	AuthPublicKeyHex string        `envconfig:"AUTH_PASETO_PUBLIC_KEY_HEX"`
	AuthIssuer       string        `envconfig:"AUTH_ISSUER" default:"bochat"`
	AuthClockSkew    time.Duration `envconfig:"AUTH_CLOCK_SKEW" default:"30s"`

	WSOriginRequired   bool          `envconfig:"WS_ORIGIN_REQUIRED" default:"false"`
	WSAllowedOrigins   []string      `envconfig:"WS_ALLOWED_ORIGINS"`
	WSSendQueueSize    int           `envconfig:"WS_SEND_QUEUE_SIZE" default:"256"`
	WSWriteTimeout     time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"5s"`
	WSReadIdleTimeout  time.Duration `envconfig:"WS_READ_IDLE_TIMEOUT" default:"2m"`
	WSHeartbeatEvery   time.Duration `envconfig:"WS_HEARTBEAT_EVERY" default:"25s"`
	WSHeartbeatTimeout time.Duration `envconfig:"WS_HEARTBEAT_TIMEOUT" default:"5s"`
	WSRateEvents       int           `envconfig:"WS_RATE_EVENTS" default:"120"`
	WSRateWindow       time.Duration `envconfig:"WS_RATE_WINDOW" default:"10s"`

	BusBuffer int `envconfig:"BUS_BUFFER" default:"64"`

	LightsAwardTTL         time.Duration `envconfig:"LIGHTS_AWARD_TTL" default:"10m"`
	LightsBothOnlineWindow time.Duration `envconfig:"LIGHTS_BOTH_ONLINE_WINDOW" default:"15s"`

	NotifyEnabled         bool          `envconfig:"NOTIFY_ENABLED" default:"true"`
	NotifyWorkers         int           `envconfig:"NOTIFY_WORKERS" default:"3"`
	NotifyGroup           string        `envconfig:"NOTIFY_GROUP" default:"notifications-dispatchers"`
	NotifyPollInterval    time.Duration `envconfig:"NOTIFY_POLL_INTERVAL" default:"1s"`
	NotifyMaxBackoff      time.Duration `envconfig:"NOTIFY_MAX_BACKOFF" default:"30s"`
	NotifyClaimMinIdle    time.Duration `envconfig:"NOTIFY_CLAIM_MIN_IDLE" default:"30s"`
	NotifyMaxLen          int64         `envconfig:"NOTIFY_MAX_LEN" default:"10000"`
	NotifyPushTimeout     time.Duration `envconfig:"NOTIFY_PUSH_TIMEOUT" default:"1s"`
	NotifyTokenTTL        time.Duration `envconfig:"NOTIFY_TOKEN_TTL" default:"50m"`
	FCMProjectID          string        `envconfig:"FCM_PROJECT_ID"`
	FCMEndpoint           string        `envconfig:"FCM_ENDPOINT"`
	GoogleCredentialsFile string        `envconfig:"GOOGLE_CREDENTIALS_FILE"`
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env entries.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
