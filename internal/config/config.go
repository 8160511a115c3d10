package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// HTTP surface
	RequestTimeout  time.Duration
	RateLimitPerSec float64
	RateLimitBurst  int

	// Shared state store
	StateBackend     string
	StateDir         string
	StateFile        string
	StateTTL         time.Duration
	PollInterval     time.Duration
	LoopGuardLimit   int
	DriverSyncWait   time.Duration
	SessionTTL       time.Duration
	DynamoStateTable string

	// Background workers
	EmbeddedWorkers bool
	VerifierSeed    int

	// LLM collaborators
	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string
	LLMMaxRetries  int
	LLMBackoffBase time.Duration
	LLMRatePerSec  float64
	LLMTimeout     time.Duration

	// Business rules
	PolicyFile string

	// Documents
	DocumentDir    string
	DocumentBucket string
	ArchiveBucket  string
	UploadDir      string

	// Auth / persistence
	DatabaseURL string
	JWTSecret   string
	JWTTTL      time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	CORSAllowedOrigins []string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 90*time.Second),
		RateLimitPerSec: getEnvAsFloat("RATE_LIMIT_PER_SEC", 5),
		RateLimitBurst:  getEnvAsInt("RATE_LIMIT_BURST", 20),

		StateBackend:     strings.ToLower(strings.TrimSpace(getEnv("STATE_BACKEND", "file"))),
		StateDir:         getEnv("STATE_DIR", "output/sessions"),
		StateFile:        getEnv("STATE_FILE", "output/conversation_state.json"),
		StateTTL:         getEnvAsDuration("STATE_TTL", 7*24*time.Hour),
		PollInterval:     getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
		LoopGuardLimit:   getEnvAsInt("LOOP_GUARD_LIMIT", 25),
		DriverSyncWait:   getEnvAsDuration("DRIVER_SYNC_WAIT", 0),
		SessionTTL:       getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		DynamoStateTable: getEnv("DYNAMO_STATE_TABLE", "loan_conversation_state"),

		EmbeddedWorkers: getEnvAsBool("EMBEDDED_WORKERS", true),
		VerifierSeed:    getEnvAsInt("VERIFIER_SEED", 0),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.0-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		LLMMaxRetries:  getEnvAsInt("LLM_MAX_RETRIES", 5),
		LLMBackoffBase: getEnvAsDuration("LLM_BACKOFF_BASE", 2*time.Second),
		LLMRatePerSec:  getEnvAsFloat("LLM_RATE_PER_SEC", 1),
		LLMTimeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),

		PolicyFile: getEnv("LOAN_POLICY_FILE", ""),

		DocumentDir:    getEnv("DOCUMENT_DIR", "output/sanction_letters"),
		DocumentBucket: getEnv("DOCUMENT_BUCKET", ""),
		ArchiveBucket:  getEnv("ARCHIVE_BUCKET", ""),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTTTL:      getEnvAsDuration("JWT_TTL", 30*time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Loan Desk"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
