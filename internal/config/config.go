package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"perpguard/internal/bot"
	"perpguard/internal/exchange"
	"perpguard/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Security       SecurityConfig
	Logging        LoggingConfig
	Venue          exchange.BybitConfig
	Overfill       bot.OverfillConfig
	Reconciliation ReconciliationConfig
	Breakers       []bot.BreakerConfig
	Health         HealthConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string // CORS и WebSocket Origin; пусто - любой origin
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - доступ оператора к изменяющим операциям API
type SecurityConfig struct {
	OperatorUser         string
	OperatorPasswordHash string // bcrypt
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// ReconciliationConfig - параметры сверки и периодичность запуска
type ReconciliationConfig struct {
	bot.ReconcilerConfig
	Interval time.Duration // 0 - только ручной запуск
}

// HealthConfig - периодичность health checks
type HealthConfig struct {
	Interval      time.Duration
	SlowPingAfter time.Duration
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	overfill := bot.DefaultOverfillConfig()
	reconciler := bot.DefaultReconcilerConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "perpguard"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			OperatorUser:         getEnv("OPERATOR_USER", "operator"),
			OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
		Venue: exchange.BybitConfig{
			BaseURL:    getEnv("BYBIT_BASE_URL", ""),
			APIKey:     getEnv("BYBIT_API_KEY", ""),
			SecretKey:  getEnv("BYBIT_SECRET_KEY", ""),
			SettleCoin: getEnv("BYBIT_SETTLE_COIN", "USDT"),
		},
		Overfill: bot.OverfillConfig{
			AllowOverfills:   getEnvAsBool("OVERFILL_ALLOW", overfill.AllowOverfills),
			TolerancePercent: getEnvAsFloat("OVERFILL_TOLERANCE_PERCENT", overfill.TolerancePercent),
			AutoAdjust:       getEnvAsBool("OVERFILL_AUTO_ADJUST", overfill.AutoAdjust),
			AlertOnOverfill:  getEnvAsBool("OVERFILL_ALERT", overfill.AlertOnOverfill),
		},
		Reconciliation: ReconciliationConfig{
			ReconcilerConfig: bot.ReconcilerConfig{
				TolerancePercent:      getEnvAsFloat("RECONCILE_TOLERANCE_PERCENT", reconciler.TolerancePercent),
				AutoApply:             getEnvAsBool("RECONCILE_AUTO_APPLY", reconciler.AutoApply),
				AlertOnDiscrepancy:    getEnvAsBool("RECONCILE_ALERT", reconciler.AlertOnDiscrepancy),
				MinDifference:         getEnvAsFloat("RECONCILE_MIN_DIFFERENCE", reconciler.MinDifference),
				PriceTolerancePercent: getEnvAsFloat("RECONCILE_PRICE_TOLERANCE_PERCENT", reconciler.PriceTolerancePercent),
			},
			Interval: getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
		},
		Breakers: loadBreakers(bot.DefaultBreakerConfigs()),
		Health: HealthConfig{
			Interval:      getEnvAsDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			SlowPingAfter: getEnvAsDuration("HEALTH_SLOW_PING", 2*time.Second),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadBreakers применяет переопределения BREAKER_<NAME>_THRESHOLD / BREAKER_<NAME>_TIMEOUT
func loadBreakers(defaults []bot.BreakerConfig) []bot.BreakerConfig {
	result := make([]bot.BreakerConfig, 0, len(defaults))
	for _, b := range defaults {
		prefix := "BREAKER_" + strings.ToUpper(b.Name)
		b.Threshold = getEnvAsInt(prefix+"_THRESHOLD", b.Threshold)
		b.Timeout = getEnvAsDuration(prefix+"_TIMEOUT", b.Timeout)
		result = append(result, b)
	}
	return result
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// без хеша изменяющие операции API недоступны никому
	if c.Security.OperatorPasswordHash == "" {
		return fmt.Errorf("OPERATOR_PASSWORD_HASH is required for operator API access")
	}

	if _, err := crypto.ValidateHash(c.Security.OperatorPasswordHash); err != nil {
		return fmt.Errorf("OPERATOR_PASSWORD_HASH must be a bcrypt hash: %w", err)
	}

	if c.Security.OperatorUser == "" {
		return fmt.Errorf("OPERATOR_USER cannot be empty")
	}

	if (c.Venue.APIKey == "") != (c.Venue.SecretKey == "") {
		return fmt.Errorf("BYBIT_API_KEY and BYBIT_SECRET_KEY must be set together")
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is enabled")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Overfill.TolerancePercent < 0 {
		return fmt.Errorf("OVERFILL_TOLERANCE_PERCENT cannot be negative, got %v", c.Overfill.TolerancePercent)
	}

	if c.Reconciliation.TolerancePercent < 0 {
		return fmt.Errorf("RECONCILE_TOLERANCE_PERCENT cannot be negative, got %v", c.Reconciliation.TolerancePercent)
	}

	if c.Reconciliation.MinDifference < 0 {
		return fmt.Errorf("RECONCILE_MIN_DIFFERENCE cannot be negative, got %v", c.Reconciliation.MinDifference)
	}

	if c.Reconciliation.PriceTolerancePercent < 0 {
		return fmt.Errorf("RECONCILE_PRICE_TOLERANCE_PERCENT cannot be negative, got %v", c.Reconciliation.PriceTolerancePercent)
	}

	// 0 - периодическая сверка выключена
	if c.Reconciliation.Interval != 0 && c.Reconciliation.Interval < time.Second {
		return fmt.Errorf("RECONCILE_INTERVAL must be at least 1s, got %v", c.Reconciliation.Interval)
	}

	if c.Health.Interval < time.Second {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be at least 1s, got %v", c.Health.Interval)
	}

	for _, b := range c.Breakers {
		if b.Threshold < 1 {
			return fmt.Errorf("breaker %s: threshold must be positive, got %d", b.Name, b.Threshold)
		}
		if b.Timeout < 0 {
			return fmt.Errorf("breaker %s: timeout cannot be negative, got %v", b.Name, b.Timeout)
		}
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", c.Server.ShutdownTimeout)
	}

	return nil
}

// VenueEnabled - заданы ли ключи биржи (без них сверка с биржей не запускается)
func (c *Config) VenueEnabled() bool {
	return c.Venue.APIKey != ""
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
