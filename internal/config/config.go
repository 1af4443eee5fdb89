package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eduplatform/chatcore/internal/logger"
	"github.com/eduplatform/chatcore/internal/ws"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
// Уже заданные переменные окружения не перезаписываются.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Errorf("config: ошибка чтения %s: %v", path, err)
			}
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
	}
}

// CacheConfig: кеш истории сообщений. При пустом RedisURL кеш живёт в памяти процесса.
type CacheConfig struct {
	TTLMinutes int
	RedisURL   string
}

// Config содержит настройки транспорта чата, HTTP-клиента и кеша.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// Realtime: кандидаты по порядку, {group_id} подставляется при подключении
	WSCandidates         ws.CandidateList
	EstablishTimeout     time.Duration
	SettleDelay          time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	// HeartbeatInterval: 0 означает no-op (полагаемся на keepalive транспорта)
	HeartbeatInterval time.Duration

	// HTTP API чата
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Fallback и история
	PollInterval    time.Duration
	HistoryPageSize int
	TypingTTL       time.Duration

	Cache CacheConfig

	// CORS для отладочного роутера
	CORSAllowedOrigins string

	LogLevel string
}

// yamlConfig: промежуточная структура для парсинга YAML. Длительности в миллисекундах,
// таймауты HTTP и heartbeat в секундах.
type yamlConfig struct {
	WSCandidates         []string `yaml:"ws_candidates"`
	EstablishTimeoutMS   int      `yaml:"establish_timeout_ms"`
	SettleDelayMS        int      `yaml:"settle_delay_ms"`
	ReconnectDelayMS     int      `yaml:"reconnect_delay_ms"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	HeartbeatInterval    int      `yaml:"heartbeat_interval"`
	APIBaseURL           string   `yaml:"api_base_url"`
	HTTPTimeout          int      `yaml:"http_timeout"`
	PollIntervalMS       int      `yaml:"poll_interval_ms"`
	HistoryPageSize      int      `yaml:"history_page_size"`
	TypingTTLMS          int      `yaml:"typing_ttl_ms"`
	CacheTTLMinutes      int      `yaml:"cache_ttl_minutes"`
	RedisURL             string   `yaml:"redis_url"`
	CORSAllowedOrigins   string   `yaml:"cors_allowed_origins"`
	LogLevel             string   `yaml:"log_level"`
}

func defaults() yamlConfig {
	return yamlConfig{
		WSCandidates: []string{
			"ws://localhost/ws/messages",
			"ws://localhost:8080/ws/messages",
		},
		EstablishTimeoutMS:   5000,
		SettleDelayMS:        500,
		ReconnectDelayMS:     3000,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    0,
		APIBaseURL:           "http://localhost:8000",
		HTTPTimeout:          10,
		PollIntervalMS:       5000,
		HistoryPageSize:      50,
		TypingTTLMS:          3000,
		CacheTTLMinutes:      10,
		CORSAllowedOrigins:   "*",
		LogLevel:             "info",
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	// CHAT_CONFIG_PATH → config/chat.yaml
	for _, path := range []string{os.Getenv("CHAT_CONFIG_PATH"), "config/chat.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	candidates := ws.CandidateList(yc.WSCandidates)
	if raw := os.Getenv("CHAT_WS_CANDIDATES"); raw != "" {
		candidates = ws.ParseCandidates(raw)
	}
	if len(candidates) == 0 {
		logger.Errorf("config: список realtime-кандидатов пуст, чат будет работать только через polling")
	}

	cfg := &Config{
		WSCandidates:         candidates,
		EstablishTimeout:     envMillis("CHAT_ESTABLISH_TIMEOUT_MS", yc.EstablishTimeoutMS),
		SettleDelay:          envMillis("CHAT_SETTLE_DELAY_MS", yc.SettleDelayMS),
		ReconnectDelay:       envMillis("CHAT_RECONNECT_DELAY_MS", yc.ReconnectDelayMS),
		MaxReconnectAttempts: envInt("CHAT_MAX_RECONNECT_ATTEMPTS", yc.MaxReconnectAttempts),
		HeartbeatInterval:    time.Duration(envInt("CHAT_HEARTBEAT_INTERVAL", yc.HeartbeatInterval)) * time.Second,
		APIBaseURL:           envStr("CHAT_API_URL", yc.APIBaseURL),
		HTTPTimeout:          time.Duration(envInt("CHAT_HTTP_TIMEOUT", yc.HTTPTimeout)) * time.Second,
		PollInterval:         envMillis("CHAT_POLL_INTERVAL_MS", yc.PollIntervalMS),
		HistoryPageSize:      envInt("CHAT_HISTORY_PAGE_SIZE", yc.HistoryPageSize),
		TypingTTL:            envMillis("CHAT_TYPING_TTL_MS", yc.TypingTTLMS),
		Cache: CacheConfig{
			TTLMinutes: envInt("CACHE_TTL_MINUTES", yc.CacheTTLMinutes),
			RedisURL:   envStr("REDIS_URL", yc.RedisURL),
		},
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = ws.DefaultMaxReconnectAttempts
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if cfg.Cache.TTLMinutes <= 0 {
		cfg.Cache.TTLMinutes = 10
	}

	if os.Getenv("APP_ENV") == "production" && (cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*") {
		logger.Errorf("config: в production задайте CORS_ALLOWED_ORIGINS (явный список origins, не *)")
	}
	return cfg
}

// ManagerOptions собирает параметры менеджера соединения из конфига.
// Fallback и Dialer задаёт вызывающий код.
func (c *Config) ManagerOptions() ws.Options {
	return ws.Options{
		Candidates:           c.WSCandidates,
		EstablishTimeout:     c.EstablishTimeout,
		SettleDelay:          c.SettleDelay,
		ReconnectDelay:       c.ReconnectDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		Heartbeat:            ws.HeartbeatFor(c.HeartbeatInterval),
	}
}

// CacheTTL возвращает время жизни кеша истории.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// CORSOrigins разбивает CORS_ALLOWED_ORIGINS по запятым.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
