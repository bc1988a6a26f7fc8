// Package config загружает настройки сервиса из значений по умолчанию,
// YAML-файла и переменных окружения LIVESTORE_*.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Gammanik/livestore/internal/broadcast"
)

// EnvPrefix префикс переменных окружения, например LIVESTORE_SERVER_ADDR
const EnvPrefix = "LIVESTORE"

// Config корневая конфигурация
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig параметры HTTP сервера. Нулевой таймаут означает отсутствие
// ограничения, что нужно для долгих потоковых загрузок и скачиваний.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig параметры хранилища
type StoreConfig struct {
	// BroadcastCapacity сколько чанков может отстать подписчик до ошибки Lagged
	BroadcastCapacity int `mapstructure:"broadcast_capacity"`

	// ReadBufferSize максимальный размер одного чтения из тела запроса
	ReadBufferSize int `mapstructure:"read_buffer_size"`

	// IngestPacing задержка перед обработкой каждого входящего чанка, 0 отключает
	IngestPacing time.Duration `mapstructure:"ingest_pacing"`
}

// JournalConfig журнал загрузок. Пустой путь отключает журнал.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig параметры logrus
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig экспорт метрик Prometheus на /-/metrics
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":3000",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			BroadcastCapacity: broadcast.DefaultCapacity,
			ReadBufferSize:    32 << 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load читает конфигурацию. Приоритет: окружение, файл, значения по умолчанию.
// Пустой configPath означает работу без файла.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("store.broadcast_capacity", d.Store.BroadcastCapacity)
	v.SetDefault("store.read_buffer_size", d.Store.ReadBufferSize)
	v.SetDefault("store.ingest_pacing", d.Store.IngestPacing)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// Validate проверяет значения
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Store.BroadcastCapacity <= 0 {
		errs = append(errs, fmt.Errorf("store.broadcast_capacity must be positive, got %d", c.Store.BroadcastCapacity))
	}
	if c.Store.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("store.read_buffer_size must be positive, got %d", c.Store.ReadBufferSize))
	}
	if c.Store.IngestPacing < 0 {
		errs = append(errs, fmt.Errorf("store.ingest_pacing must not be negative, got %s", c.Store.IngestPacing))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Apply настраивает глобальный логгер logrus
func (l LoggingConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if strings.EqualFold(l.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
