package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации шлюза реагирования.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Engine EngineConfig `mapstructure:"engine"`
	Audit  AuditConfig  `mapstructure:"audit"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Logger LoggerConfig `mapstructure:"logger"`

	// Пути к снапшот-файлам справочников (цели и роли).
	// Оба перезагружаются целиком атомарной заменой снапшота.
	TargetsFile string `mapstructure:"targets_file"`
	RolesFile   string `mapstructure:"roles_file"`
}

// ServerConfig описывает настройки HTTP-сервера командной поверхности.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT операторов.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PublicKey      []byte
	PrivateKey     []byte
}

// EngineConfig — настройки исполнения удаленных вызовов.
type EngineConfig struct {
	// Shell — бинарь, через который собирается удаленный вызов (pwsh/powershell).
	Shell string `mapstructure:"shell"`

	// Учетные данные подключения к эндпоинтам. Подставляются один раз
	// в преамбулу соединения и НИКОГДА не попадают в значения параметров
	// и в сообщения об ошибках.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// MaxTimeout — жесткий потолок для declared-timeout запроса.
	MaxTimeout time.Duration `mapstructure:"max_timeout"`

	// Границы Reliability-обертки (внешний слой, сам движок не ретраит).
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`
	CBMaxRequests  uint32        `mapstructure:"cb_max_requests"`
	CBInterval     time.Duration `mapstructure:"cb_interval"`
	CBTimeout      time.Duration `mapstructure:"cb_timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

// AuditConfig — первичный append-only журнал + опциональное зеркало в Postgres.
type AuditConfig struct {
	FilePath      string        `mapstructure:"file_path"`
	MirrorDBURL   string        `mapstructure:"mirror_db_url"` // пусто — зеркало выключено
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RedisConfig — трансляция состояния изоляции между инстансами.
// Пустой Addr переводит менеджер изоляции в локальный режим.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Ключи: либо PEM напрямую в ENV (Docker/K8s), либо файл по пути из конфига
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute) // memory-capture долгий
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("engine.shell", "pwsh")
	v.SetDefault("engine.max_timeout", 15*time.Minute)
	v.SetDefault("engine.rate_limit", 10)
	v.SetDefault("engine.rate_burst", 5)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.max_output_bytes", 1<<20)
	v.SetDefault("audit.file_path", "audit.jsonl")
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("targets_file", "configs/targets.yaml")
	v.SetDefault("roles_file", "configs/roles.yaml")
}

// loadKeyResource — универсальный хелпер: ENV с данными приоритетнее пути к файлу.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
