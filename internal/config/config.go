// Package config はサービス共通の設定を読み込む。
//
// 既定値、設定ファイル（CONFIG_PATHで指定したYAML）、環境変数の順に上書きする。
// 環境変数名はキーを大文字にして "." を "_" に置き換えたもの（例: KAFKA_BROKERS）。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// サービス名。既定ポートの決定に使う。
const (
	ServicePerformance  = "performance"
	ServiceNotification = "notification"
	ServiceWorkforce    = "workforce"
	ServiceSubscriber   = "subscriber"
	ServiceGateway      = "gateway"
)

// defaultPorts はサービスごとの既定ポート。
var defaultPorts = map[string]string{
	ServicePerformance:  "8081",
	ServiceNotification: "8082",
	ServiceWorkforce:    "8083",
}

// DirectoryConfig は接続ディレクトリの設定。
type DirectoryConfig struct {
	// Shards はアイデンティティを分散するシャード数。
	Shards int `mapstructure:"shards"`
}

// KafkaConfig はハブ間中継の設定。Brokersが空なら中継しない。
type KafkaConfig struct {
	// Brokers はKafkaブローカーのアドレス一覧。
	Brokers []string `mapstructure:"brokers"`
	// Topic は通知エンベロープを流すトピック。
	Topic string `mapstructure:"topic"`
}

// Enabled は中継が有効かどうかを返す。
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// SubscriberConfig は購読クライアントの設定。
type SubscriberConfig struct {
	// HubURL は通知ハブのWebSocketエンドポイント。
	HubURL string `mapstructure:"hub_url"`
	// Token は接続に使うJWTトークン。
	Token string `mapstructure:"token"`
	// EmployeeID は個人モードで表示する従業員ID。空ならダッシュボードモード。
	EmployeeID string `mapstructure:"employee_id"`
}

// Config はサービス共通の設定。
type Config struct {
	// Service はサービス名。
	Service string `mapstructure:"-"`
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// DBPath はSQLiteデータベースのパス。
	DBPath string `mapstructure:"db_path"`
	// JWTSecret はJWTの署名鍵。
	JWTSecret string `mapstructure:"jwt_secret"`
	// CORSOrigins はCORSで許可するオリジン。
	CORSOrigins []string `mapstructure:"cors_origins"`
	// NotificationURL は通知ハブのベースURL。
	NotificationURL string `mapstructure:"notification_url"`
	// PerformanceURL は集計APIのベースURL。
	PerformanceURL string `mapstructure:"performance_url"`
	// WorkforceURL は書き込みAPIのベースURL。
	WorkforceURL string `mapstructure:"workforce_url"`
	// DevTokens がtrueならGatewayが開発用トークンを発行する。
	DevTokens bool `mapstructure:"dev_tokens"`
	// DispatchTimeout はリモート配信1件あたりのタイムアウト。
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// DispatchMaxInFlight は同時に送るリモート配信依頼の上限。
	DispatchMaxInFlight int `mapstructure:"dispatch_max_in_flight"`
	// LogLevel はログ出力レベル（debug, info, warn, error）。
	LogLevel string `mapstructure:"log_level"`
	// Directory は接続ディレクトリの設定。
	Directory DirectoryConfig `mapstructure:"directory"`
	// Kafka はハブ間中継の設定。
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Subscriber は購読クライアントの設定。
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
}

// Load はサービスの設定を読み込む。
// CONFIG_PATHが未設定、またはファイルが存在しない場合は既定値と環境変数のみを使う。
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	cfg.Service = service
	if cfg.Directory.Shards <= 0 {
		cfg.Directory.Shards = 32
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	port, ok := defaultPorts[service]
	if !ok {
		port = "8080"
	}
	v.SetDefault("port", port)
	v.SetDefault("db_path", "workforce.db")
	v.SetDefault("jwt_secret", "dev-secret-key")
	v.SetDefault("cors_origins", []string{"http://localhost:4200"})
	v.SetDefault("notification_url", "http://localhost:8082")
	v.SetDefault("performance_url", "http://localhost:8081")
	v.SetDefault("workforce_url", "http://localhost:8083")
	v.SetDefault("dev_tokens", false)
	v.SetDefault("dispatch_timeout", 5*time.Second)
	v.SetDefault("dispatch_max_in_flight", 64)
	v.SetDefault("log_level", "info")
	v.SetDefault("directory.shards", 32)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "workforce.notifications")
	v.SetDefault("subscriber.hub_url", "ws://localhost:8082/api/v1/notifications/ws")
	v.SetDefault("subscriber.token", "")
	v.SetDefault("subscriber.employee_id", "")
}

// Logger はLogLevelに従ったJSON形式のロガーを生成する。
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With(slog.String("service", c.Service))
}
