package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type EnvValue struct {
	ServerPort     int
	StoreDriver    string
	DatabaseURL    string
	JWTKey         string
	DevAuth        bool
	AllowedOrigin  string
	PublicBaseURL  string
	VoteTimeout    time.Duration
	CleanupGrace   time.Duration
	LoadingTimeout time.Duration
	MessageRate    float64
	MessageBurst   int
	DebugMode      bool

	// Warnings lists settings that were ignored. Configuration is read
	// before the logger exists, so they are logged later by LogWarnings.
	Warnings []Warning
}

// Warning is a setting that could not be used as given.
type Warning struct {
	Message string
	Key     string
	Value   string
	Default string
}

var Value EnvValue

// LoadEnv reads .env (if present) and the process environment into Value.
func LoadEnv() {
	dotenvErr := godotenv.Load()
	Value = Read(os.Getenv)
	if dotenvErr != nil && !os.IsNotExist(dotenvErr) {
		Value.Warnings = append(Value.Warnings, Warning{
			Message: "Failed to read .env file",
			Key:     ".env",
			Value:   dotenvErr.Error(),
		})
	}
}

// LogWarnings reports every ignored setting. Call it once the logger is set up.
func (v EnvValue) LogWarnings() {
	for _, w := range v.Warnings {
		logger.Warn("[LoadEnv] "+w.Message,
			zap.String("key", w.Key), zap.String("value", w.Value), zap.String("default", w.Default))
	}
}

// Read builds the configuration from a lookup function.
func Read(getenv func(string) string) EnvValue {
	src := &source{getenv: getenv}
	v := EnvValue{
		ServerPort:     src.intOr("PORT", 8080),
		StoreDriver:    strings.ToLower(src.stringOr("STORE_DRIVER", StoreMemory)),
		DatabaseURL:    getenv("DATABASE_URL"),
		JWTKey:         getenv("JWT_KEY"),
		DevAuth:        src.boolOr("DEV_AUTH", false),
		AllowedOrigin:  src.stringOr("ALLOWED_ORIGIN", "*"),
		PublicBaseURL:  strings.TrimRight(src.stringOr("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		VoteTimeout:    src.durationOr("VOTE_TIMEOUT", internal.VoteTimeout),
		CleanupGrace:   src.durationOr("CLEANUP_GRACE", internal.EmptyRoomGracePeriod),
		LoadingTimeout: src.durationOr("LOADING_TIMEOUT", internal.LoadingTimeout),
		MessageRate:    src.floatOr("MESSAGE_RATE", 10),
		MessageBurst:   src.intOr("MESSAGE_BURST", 20),
		DebugMode:      src.boolOr("DEBUG_MODE", false),
	}
	if v.DatabaseURL == "" {
		v.DatabaseURL = src.blueprintURL()
	}
	v.Warnings = src.warnings
	return v
}

type source struct {
	getenv   func(string) string
	warnings []Warning
}

func (s *source) warn(message, key, raw string, def any) {
	s.warnings = append(s.warnings, Warning{
		Message: message,
		Key:     key,
		Value:   raw,
		Default: fmt.Sprint(def),
	})
}

// blueprintURL assembles a connection string from the BLUEPRINT_DB_* keys.
func (s *source) blueprintURL() string {
	host := s.getenv("BLUEPRINT_DB_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		s.getenv("BLUEPRINT_DB_USERNAME"),
		s.getenv("BLUEPRINT_DB_PASSWORD"),
		host,
		s.stringOr("BLUEPRINT_DB_PORT", "5432"),
		s.getenv("BLUEPRINT_DB_DATABASE"),
		s.stringOr("BLUEPRINT_DB_SCHEMA", "public"),
	)
}

func (s *source) stringOr(key, def string) string {
	if v := strings.TrimSpace(s.getenv(key)); v != "" {
		return v
	}
	return def
}

func (s *source) intOr(key string, def int) int {
	raw := strings.TrimSpace(s.getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		s.warn("Invalid integer, using default", key, raw, def)
		return def
	}
	return n
}

func (s *source) floatOr(key string, def float64) float64 {
	raw := strings.TrimSpace(s.getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		s.warn("Invalid number, using default", key, raw, def)
		return def
	}
	return f
}

func (s *source) boolOr(key string, def bool) bool {
	raw := strings.TrimSpace(s.getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		s.warn("Invalid boolean, using default", key, raw, def)
		return def
	}
	return b
}

func (s *source) durationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(s.getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		s.warn("Invalid duration, using default", key, raw, def)
		return def
	}
	return d
}
