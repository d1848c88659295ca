package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const defaultPort = "5000"

// DefaultSubscriptionIds are the product identifiers accepted as a valid Gold entitlement.
var DefaultSubscriptionIds = []string{
	"locket_1600_1y",
	"locket_199_1m",
	"locket_199_1m_only",
	"locket_3600_1y",
	"locket_399_1m_only",
}

// Settings is everything the service reads from the environment.
type Settings struct {
	Port string `validate:"required"`

	Email          string `validate:"required,email"`
	Password       string `validate:"required"`
	FirebaseAPIKey string
	APIBaseURL     string `validate:"required,url"`
	AuthBaseURL    string `validate:"required,url"`

	SubscriptionIds []string `validate:"min=1,dive,required"`
	CallTimeout     time.Duration

	EstimatorWindow         int `validate:"min=1"`
	EstimatorDefaultSeconds int `validate:"min=1"`

	TelegramBotToken string
	TelegramChatId   string
	EventsTopic      string

	RedisAddress       string
	CORSAllowedOrigins []string
	RateLimitMax       int64
	RateLimitWindow    time.Duration
}

func init() {
	// Load env from .env
	godotenv.Load()
}

// LoadSettings reads the environment into Settings. The returned settings are
// usable even when err is non-nil; err reports which required values are missing.
func LoadSettings() (Settings, error) {
	s := Settings{
		Port:                    firstNonEmpty(os.Getenv("PORT"), defaultPort),
		Email:                   strings.TrimSpace(os.Getenv("EMAIL")),
		Password:                os.Getenv("PASSWORD"),
		FirebaseAPIKey:          strings.TrimSpace(os.Getenv("FIREBASE_API_KEY")),
		APIBaseURL:              firstNonEmpty(os.Getenv("LOCKET_API_BASE_URL"), "https://api.locketcamera.com"),
		AuthBaseURL:             firstNonEmpty(os.Getenv("LOCKET_AUTH_BASE_URL"), "https://identitytoolkit.googleapis.com"),
		SubscriptionIds:         SplitAndTrim(os.Getenv("SUBSCRIPTION_IDS")),
		CallTimeout:             SecondsFromEnv("UPSTREAM_CALL_TIMEOUT_SECONDS", 30*time.Second),
		EstimatorWindow:         IntFromEnv("ESTIMATOR_WINDOW", 10),
		EstimatorDefaultSeconds: IntFromEnv("ESTIMATOR_DEFAULT_SECONDS", 5),
		TelegramBotToken:        strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramChatId:          strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")),
		EventsTopic:             strings.TrimSpace(os.Getenv("RESTORE_EVENTS_TOPIC")),
		RedisAddress:            strings.TrimSpace(os.Getenv("REDIS_ADDRESS")),
		CORSAllowedOrigins:      SplitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RateLimitMax:            int64(IntFromEnv("RATE_LIMIT_MAX_REQUESTS", 30)),
		RateLimitWindow:         SecondsFromEnv("RATE_LIMIT_WINDOW_SECONDS", time.Minute),
	}
	if len(s.SubscriptionIds) == 0 {
		s.SubscriptionIds = append([]string(nil), DefaultSubscriptionIds...)
	}
	return s, validator.New().Struct(s)
}

func SplitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
