package config

import (
	"os"
	"strconv"

	"tracktech-scheduler/internal/common/config"
)

// Config 排产服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr string
	}

	// Store 集合持久化后端：redis / postgres / memory
	Store struct {
		Backend   string
		KeyPrefix string
	}

	Planner struct {
		// 自动排产起始日期按该时区截断到日历日
		Timezone string
	}

	Events struct {
		Enabled     bool
		Stream      string // 事件流名称，如 "planner:events"
		MQTTEnabled bool
		TopicPrefix string // MQTT 主题前缀，如 "planner"
	}

	// Commands 命令流消费配置
	Commands struct {
		Enabled       bool
		Stream        string
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int
	}

	Notify struct {
		WebhookURL string
		Timeout    int // 秒
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "tracktech",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  2,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "tracktech-scheduler",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Store.Backend = getEnv("STORE_BACKEND", "redis")
	cfg.Store.KeyPrefix = getEnv("PLANNER_KEY_PREFIX", "planner:")

	cfg.Planner.Timezone = getEnv("PLANNER_TIMEZONE", "UTC")

	cfg.Events.Enabled = getEnv("EVENTS_ENABLED", "true") == "true"
	cfg.Events.Stream = getEnv("PLANNER_EVENT_STREAM", "planner:events")
	cfg.Events.MQTTEnabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.Events.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "planner")

	cfg.Commands.Enabled = getEnv("COMMANDS_ENABLED", "true") == "true"
	cfg.Commands.Stream = getEnv("PLANNER_COMMAND_STREAM", "planner:commands")
	cfg.Commands.ConsumerGroup = getEnv("CONSUMER_GROUP", "planner-group")
	cfg.Commands.ConsumerName = getEnv("CONSUMER_NAME", "planner-1")
	cfg.Commands.BatchSize = 10 // 默认批量处理 10 条消息
	if v, err := strconv.Atoi(getEnv("BATCH_SIZE", "10")); err == nil && v > 0 {
		cfg.Commands.BatchSize = v
	}

	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")
	cfg.Notify.Timeout = 10
	if v, err := strconv.Atoi(getEnv("NOTIFY_TIMEOUT", "10")); err == nil && v > 0 {
		cfg.Notify.Timeout = v
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
