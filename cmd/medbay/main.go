package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/MedBay/internal/api"
	"github.com/BTreeMap/MedBay/internal/document"
	"github.com/BTreeMap/MedBay/internal/flow"
	"github.com/BTreeMap/MedBay/internal/genai"
	"github.com/BTreeMap/MedBay/internal/lockfile"
	"github.com/BTreeMap/MedBay/internal/places"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/BTreeMap/MedBay/internal/twiliowhatsapp"
	"github.com/BTreeMap/MedBay/internal/whatsapp"
	"github.com/BTreeMap/MedBay/internal/xray"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Default file names inside the state directory
const (
	DefaultAppDBFileName      = "medbay.db"
	DefaultWhatsAppDBFileName = "whatsapp.db"
	DefaultReportsDirName     = "reports"
)

// Config is the service configuration, read from the environment.
type Config struct {
	StateDir    string `envconfig:"MEDBAY_STATE_DIR" default:"/var/lib/medbay"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	APIAddr     string `envconfig:"API_ADDR" default:":8000"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	OpenAIKey         string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel       string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL"`
	OpenAITemperature float64       `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAIMaxTokens   int           `envconfig:"OPENAI_MAX_TOKENS" default:"1024"`
	LLMTimeout        time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
	GenAIDebug        bool          `envconfig:"GENAI_DEBUG" default:"false"`
	PersonasFile      string        `envconfig:"PERSONAS_FILE"`

	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionMaxHistory int           `envconfig:"SESSION_MAX_HISTORY" default:"50"`
	RedisURL          string        `envconfig:"REDIS_URL"`

	PlacesAPIKey  string        `envconfig:"GOOGLE_PLACES_API_KEY"`
	PlacesTimeout time.Duration `envconfig:"PLACES_TIMEOUT" default:"10s"`

	VisionURL             string        `envconfig:"VISION_SERVICE_URL" default:"http://localhost:8001"`
	VisionTimeout         time.Duration `envconfig:"VISION_TIMEOUT" default:"60s"`
	DocumentURL           string        `envconfig:"DOCUMENT_SERVICE_URL" default:"http://localhost:8002"`
	DocumentUploadTimeout time.Duration `envconfig:"DOCUMENT_UPLOAD_TIMEOUT" default:"60s"`
	DocumentQueryTimeout  time.Duration `envconfig:"DOCUMENT_QUERY_TIMEOUT" default:"30s"`

	SupabaseURL   string `envconfig:"SUPABASE_URL"`
	SupabaseKey   string `envconfig:"SUPABASE_KEY"`
	ReportBucket  string `envconfig:"REPORT_BUCKET" default:"medbay-reports"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8000"`

	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioAsyncMedia bool   `envconfig:"TWILIO_ASYNC_MEDIA" default:"false"`

	WhatsAppEnabled  bool   `envconfig:"WHATSAPP_ENABLED" default:"false"`
	WhatsAppDBDriver string `envconfig:"WHATSAPP_DB_DRIVER"`
	WhatsAppDBDSN    string `envconfig:"WHATSAPP_DB_DSN"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"medbay.turns"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Set by flags only
	QROutput    string `ignored:"true"`
	NumericCode bool   `ignored:"true"`
}

func main() {
	dotenvErr := godotenv.Load()

	cfg, err := loadEnvironmentConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &cfg); err != nil {
		os.Exit(2)
	}

	initializeLogger(cfg.LogLevel)
	if dotenvErr != nil {
		slog.Debug("failed to load .env file", "error", dotenvErr)
	}
	applyStateDefaults(&cfg)

	if err := ensureDirectoriesExist(cfg); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}

	waOpts := buildWhatsAppOptions(cfg)
	twilioOpts := buildTwilioOptions(cfg)
	storeOpts := buildStoreOptions(cfg)
	genaiOpts := buildGenAIOptions(cfg)
	apiOpts := buildAPIOptions(cfg)

	slog.Info("Bootstrapping MedBay with configured modules")
	slog.Debug("Final configuration",
		"state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "",
		"api_addr", cfg.APIAddr,
		"openai_key_set", cfg.OpenAIKey != "",
		"redis_set", cfg.RedisURL != "",
		"places_key_set", cfg.PlacesAPIKey != "",
		"supabase_set", cfg.SupabaseURL != "" && cfg.SupabaseKey != "",
		"twilio_set", cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "",
		"whatsapp_enabled", cfg.WhatsAppEnabled,
		"kafka_brokers", len(cfg.KafkaBrokers))
	runErr := api.Run(waOpts, twilioOpts, storeOpts, genaiOpts, apiOpts...)
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release state directory lock", "error", err)
	}
	if runErr != nil {
		slog.Error("MedBay failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("MedBay exited successfully")
}

// initializeLogger installs a text slog handler at the configured level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig fills Config from the environment.
func loadEnvironmentConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// parseCommandLineFlags overrides the most common settings from the command line.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg *Config) error {
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for MedBay data (overrides $MEDBAY_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "application database DSN (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.PersonasFile, "personas", cfg.PersonasFile, "persona YAML file (overrides $PERSONAS_FILE)")
	fs.BoolVar(&cfg.WhatsAppEnabled, "whatsapp", cfg.WhatsAppEnabled, "start the direct WhatsApp channel (overrides $WHATSAPP_ENABLED)")
	fs.StringVar(&cfg.QROutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&cfg.NumericCode, "numeric-code", false, "use numeric login code instead of QR code")
	return fs.Parse(args)
}

// applyStateDefaults places unset database files and reports under the state directory.
func applyStateDefaults(cfg *Config) {
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultAppDBFileName)
		slog.Debug("No DATABASE_URL set, defaulting to SQLite", "sqlite_path", cfg.DatabaseURL)
	}
	if cfg.WhatsAppDBDSN == "" {
		cfg.WhatsAppDBDSN = "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// ensureDirectoriesExist creates the state directory for file-based storage.
func ensureDirectoriesExist(cfg Config) error {
	dirs := []string{cfg.StateDir}
	if store.DetectDSNType(cfg.DatabaseURL) == "sqlite3" {
		dirs = append(dirs, filepath.Dir(cfg.DatabaseURL))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(cfg Config) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if cfg.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
	}
	if cfg.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if cfg.WhatsAppDBDriver != "" {
		waOpts = append(waOpts, whatsapp.WithDBDriver(cfg.WhatsAppDBDriver))
	}
	if cfg.WhatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(cfg.WhatsAppDBDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(cfg Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if cfg.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID))
	}
	if cfg.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken))
	}
	if cfg.TwilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(cfg.TwilioFrom))
	}
	return opts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(cfg Config) []store.Option {
	if cfg.DatabaseURL == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(cfg.DatabaseURL) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(cfg.DatabaseURL)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", cfg.DatabaseURL)
	return []store.Option{store.WithSQLiteDSN(cfg.DatabaseURL)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(cfg Config) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithModel(cfg.OpenAIModel),
		genai.WithTemperature(cfg.OpenAITemperature),
		genai.WithMaxTokens(cfg.OpenAIMaxTokens),
		genai.WithTimeout(cfg.LLMTimeout),
		genai.WithDebugMode(cfg.GenAIDebug),
		genai.WithStateDir(cfg.StateDir),
	}
	if cfg.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(cfg.OpenAIKey))
	}
	if cfg.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(cfg Config) []api.Option {
	apiOpts := []api.Option{
		api.WithAddr(cfg.APIAddr),
		api.WithCORSOrigins(cfg.CORSAllowedOrigins),
		api.WithPersonasFile(cfg.PersonasFile),
		api.WithWhatsApp(cfg.WhatsAppEnabled),
		api.WithTwilioAsyncMedia(cfg.TwilioAsyncMedia),
		api.WithSessionOptions(store.WithSessionTTL(cfg.SessionTTL), store.WithRedisURL(cfg.RedisURL)),
		api.WithEngineOptions(flow.WithMaxHistory(cfg.SessionMaxHistory)),
		api.WithPlacesOptions(places.WithAPIKey(cfg.PlacesAPIKey), places.WithTimeout(cfg.PlacesTimeout)),
		api.WithXrayOptions(xray.WithBaseURL(cfg.VisionURL), xray.WithTimeout(cfg.VisionTimeout)),
		api.WithDocumentOptions(
			document.WithBaseURL(cfg.DocumentURL),
			document.WithUploadTimeout(cfg.DocumentUploadTimeout),
			document.WithQueryTimeout(cfg.DocumentQueryTimeout),
		),
		api.WithSupabaseReports(cfg.SupabaseURL, cfg.SupabaseKey, cfg.ReportBucket),
		api.WithLocalReports(filepath.Join(cfg.StateDir, DefaultReportsDirName), cfg.PublicBaseURL),
	}
	if len(cfg.KafkaBrokers) > 0 {
		apiOpts = append(apiOpts, api.WithKafka(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	return apiOpts
}
