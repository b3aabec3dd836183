package config

import (
	"os"
	"strconv"
	"strings"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server         ServerConfig         `json:"server"`
	Database       DatabaseConfig       `json:"database"`
	Redis          RedisConfig          `json:"redis"`
	Kafka          KafkaConfig          `json:"kafka"`
	Logger         LoggerConfig         `json:"logger"`
	Checkout       CheckoutConfig       `json:"checkout"`
	Cart           CartConfig           `json:"cart"`
	Scheduler      SchedulerConfig      `json:"scheduler"`
	Telemetry      TelemetryConfig      `json:"telemetry"`
	CouponAttempts CouponAttemptsConfig `json:"coupon_attempts"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	DBName       string `json:"db_name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	AutoMigrate  bool   `json:"auto_migrate"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Transactions  string `json:"transactions"`
	Coupons       string `json:"coupons"`
	Notifications string `json:"notifications"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// CheckoutConfig хранит параметры оформления транзакций
type CheckoutConfig struct {
	Currency          string `json:"currency"`
	DefaultExpiryDays int    `json:"default_expiry_days"` // если ни у одной позиции нет даты начала
	CacheTTLMinutes   int    `json:"cache_ttl_minutes"`
}

// CartConfig хранит параметры пагинации корзины
type CartConfig struct {
	DefaultPageSize int `json:"default_page_size"`
	MaxPageSize     int `json:"max_page_size"`
}

// SchedulerConfig описывает ежедневные задачи согласованности.
// Расписание задаётся cron-выражениями с полем секунд в часовом поясе Location;
// тот же пояс определяет «сегодня» для сервисов.
type SchedulerConfig struct {
	Enabled            bool   `json:"enabled"`
	Location           string `json:"location"`
	ExpireCron         string `json:"expire_cron"`
	OfferingStatusCron string `json:"offering_status_cron"`
	TokenSweepCron     string `json:"token_sweep_cron"`
	LockTTLSeconds     int    `json:"lock_ttl_seconds"`
}

// TelemetryConfig описывает экспорт трейсов и метрик по OTLP/HTTP
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
}

// CouponAttemptsConfig ограничивает неудачные попытки применить или проверить
// купон: после MaxFailures ошибок за окно вызывающий блокируется до его конца
type CouponAttemptsConfig struct {
	Enabled       bool   `json:"enabled"`
	MaxFailures   int    `json:"max_failures"`
	WindowSeconds int    `json:"window_seconds"`
	KeyPrefix     string `json:"key_prefix"`
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "booking_user"),
			Password:     getEnv("DB_PASSWORD", "booking_pass"),
			DBName:       getEnv("DB_NAME", "formation_booking"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "formation-booking"),
			Topics: Topics{
				Transactions:  getEnv("KAFKA_TOPIC_TRANSACTIONS", "transactions"),
				Coupons:       getEnv("KAFKA_TOPIC_COUPONS", "coupons"),
				Notifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "notifications"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Checkout: CheckoutConfig{
			Currency:          getEnv("CHECKOUT_CURRENCY", "DT"),
			DefaultExpiryDays: getEnvAsInt("CHECKOUT_DEFAULT_EXPIRY_DAYS", 7),
			CacheTTLMinutes:   getEnvAsInt("CHECKOUT_CACHE_TTL_MINUTES", 15),
		},
		Cart: CartConfig{
			DefaultPageSize: getEnvAsInt("CART_DEFAULT_PAGE_SIZE", 20),
			MaxPageSize:     getEnvAsInt("CART_MAX_PAGE_SIZE", 100),
		},
		Scheduler: SchedulerConfig{
			Enabled:            getEnvAsBool("SCHEDULER_ENABLED", true),
			Location:           getEnv("SCHEDULER_LOCATION", "Africa/Tunis"),
			ExpireCron:         getEnv("SCHEDULER_EXPIRE_CRON", "0 0 0 * * ?"),
			OfferingStatusCron: getEnv("SCHEDULER_OFFERING_STATUS_CRON", "0 1 0 * * ?"),
			TokenSweepCron:     getEnv("SCHEDULER_TOKEN_SWEEP_CRON", "0 0 3 * * ?"),
			LockTTLSeconds:     getEnvAsInt("SCHEDULER_LOCK_TTL_SECONDS", 600),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("SERVICE_NAME", "formation-booking"),
		},
		CouponAttempts: CouponAttemptsConfig{
			Enabled:       getEnvAsBool("COUPON_ATTEMPTS_ENABLED", true),
			MaxFailures:   getEnvAsInt("COUPON_ATTEMPTS_MAX_FAILURES", 5),
			WindowSeconds: getEnvAsInt("COUPON_ATTEMPTS_WINDOW_SECONDS", 900),
			KeyPrefix:     getEnv("COUPON_ATTEMPTS_KEY_PREFIX", "coupon-attempts"),
		},
	}
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 с значением по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool с значением по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "true" || valueStr == "1" || valueStr == "yes" {
		return true
	}
	if valueStr == "false" || valueStr == "0" || valueStr == "no" {
		return false
	}
	return defaultValue
}
