package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig is the raw per-provider credential bundle. The payment
// module resolves it into adapter credentials at startup; nothing else
// reads key material directly.
type ProviderConfig struct {
	Enabled    bool
	AppID      string
	MerchantID string
	APIKey     string
	PublicKey  string
	PrivateKey string
	Gateway    string
	NotifyURL  string
	ReturnURL  string
	SignType   string
}

// Config aggregates runtime configuration, injected via environment.
type Config struct {
	ServiceName string
	Environment string
	HTTPAddr    string
	DBPath      string

	// Redis backs the notification dedup window. Empty addr disables it;
	// the durable idempotency markers remain the source of truth.
	RedisAddr   string
	RedisDB     int
	DedupWindow time.Duration

	// Kafka settlement event relay. Empty broker list disables the relay.
	KafkaBrokers      []string
	KafkaTopic        string
	RelayPollInterval time.Duration
	RelayBatchSize    int

	// Order lifecycle.
	OrderTTL time.Duration

	// Ledger crediting.
	LedgerTimeout     time.Duration
	CreditRetryBase   time.Duration
	CreditMaxAttempts int

	// Reconciliation sweep.
	SweepInterval  time.Duration
	SweepBatchSize int

	// Order creation rate limit (per username).
	OrderRateLimit  int
	OrderRateWindow time.Duration

	Alipay ProviderConfig
	Wechat ProviderConfig
}

// IsProduction reports whether the service runs with production hardening.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads and validates configuration, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		ServiceName:       getEnv("SERVICE_NAME", "points-payment"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "points_payment.db"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisDB:           0,
		DedupWindow:       48 * time.Hour,
		KafkaBrokers:      splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "payment-settlements"),
		RelayPollInterval: 2 * time.Second,
		RelayBatchSize:    32,
		OrderTTL:          2 * time.Hour,
		LedgerTimeout:     5 * time.Second,
		CreditRetryBase:   30 * time.Second,
		CreditMaxAttempts: 8,
		SweepInterval:     15 * time.Second,
		SweepBatchSize:    50,
		OrderRateLimit:    10,
		OrderRateWindow:   time.Minute,
		Alipay:            loadProvider("ALIPAY", "https://openapi.alipay.com/gateway.do", "RSA2"),
		Wechat:            loadProvider("WECHAT", "https://api.mch.weixin.qq.com", "MD5"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.DedupWindow, err = getEnvDuration("DEDUP_WINDOW", cfg.DedupWindow); err != nil {
		return Config{}, fmt.Errorf("invalid DEDUP_WINDOW: %w", err)
	}
	if cfg.OrderTTL, err = getEnvDuration("ORDER_TTL", cfg.OrderTTL); err != nil {
		return Config{}, fmt.Errorf("invalid ORDER_TTL: %w", err)
	}
	if cfg.LedgerTimeout, err = getEnvDuration("LEDGER_TIMEOUT", cfg.LedgerTimeout); err != nil {
		return Config{}, fmt.Errorf("invalid LEDGER_TIMEOUT: %w", err)
	}
	if cfg.CreditRetryBase, err = getEnvDuration("CREDIT_RETRY_BASE", cfg.CreditRetryBase); err != nil {
		return Config{}, fmt.Errorf("invalid CREDIT_RETRY_BASE: %w", err)
	}
	if cfg.CreditMaxAttempts, err = getEnvInt("CREDIT_MAX_ATTEMPTS", cfg.CreditMaxAttempts); err != nil {
		return Config{}, fmt.Errorf("invalid CREDIT_MAX_ATTEMPTS: %w", err)
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepBatchSize, err = getEnvInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize); err != nil {
		return Config{}, fmt.Errorf("invalid SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.OrderRateLimit, err = getEnvInt("ORDER_RATE_LIMIT", cfg.OrderRateLimit); err != nil {
		return Config{}, fmt.Errorf("invalid ORDER_RATE_LIMIT: %w", err)
	}
	if cfg.OrderRateWindow, err = getEnvDuration("ORDER_RATE_WINDOW", cfg.OrderRateWindow); err != nil {
		return Config{}, fmt.Errorf("invalid ORDER_RATE_WINDOW: %w", err)
	}
	if cfg.RelayPollInterval, err = getEnvDuration("RELAY_POLL_INTERVAL", cfg.RelayPollInterval); err != nil {
		return Config{}, fmt.Errorf("invalid RELAY_POLL_INTERVAL: %w", err)
	}
	if cfg.RelayBatchSize, err = getEnvInt("RELAY_BATCH_SIZE", cfg.RelayBatchSize); err != nil {
		return Config{}, fmt.Errorf("invalid RELAY_BATCH_SIZE: %w", err)
	}

	if cfg.CreditMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("CREDIT_MAX_ATTEMPTS must be > 0")
	}
	if cfg.SweepBatchSize <= 0 {
		return Config{}, fmt.Errorf("SWEEP_BATCH_SIZE must be > 0")
	}
	if cfg.OrderRateLimit <= 0 {
		return Config{}, fmt.Errorf("ORDER_RATE_LIMIT must be > 0")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return Config{}, fmt.Errorf("KAFKA_TOPIC must not be empty when brokers are set")
	}
	if err := validateProvider("ALIPAY", cfg.Alipay); err != nil {
		return Config{}, err
	}
	if err := validateProvider("WECHAT", cfg.Wechat); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadProvider reads one provider bundle. Key material may be supplied
// inline or via a *_FILE path; the loader never logs either.
func loadProvider(prefix, defaultGateway, defaultSignType string) ProviderConfig {
	return ProviderConfig{
		Enabled:    getEnvBool(prefix+"_ENABLED", false),
		AppID:      getEnv(prefix+"_APP_ID", ""),
		MerchantID: getEnv(prefix+"_MCH_ID", ""),
		APIKey:     getEnvSecret(prefix + "_API_KEY"),
		PublicKey:  getEnvSecret(prefix + "_PUBLIC_KEY"),
		PrivateKey: getEnvSecret(prefix + "_PRIVATE_KEY"),
		Gateway:    getEnv(prefix+"_GATEWAY", defaultGateway),
		NotifyURL:  getEnv(prefix+"_NOTIFY_URL", ""),
		ReturnURL:  getEnv(prefix+"_RETURN_URL", ""),
		SignType:   getEnv(prefix+"_SIGN_TYPE", defaultSignType),
	}
}

func validateProvider(prefix string, pc ProviderConfig) error {
	if !pc.Enabled {
		return nil
	}
	if pc.AppID == "" {
		return fmt.Errorf("%s_APP_ID required when %s_ENABLED", prefix, prefix)
	}
	if pc.NotifyURL == "" {
		return fmt.Errorf("%s_NOTIFY_URL required when %s_ENABLED", prefix, prefix)
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvSecret resolves KEY, or reads the file named by KEY_FILE.
func getEnvSecret(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	path := strings.TrimSpace(os.Getenv(key + "_FILE"))
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
