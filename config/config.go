package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	WareBox  WareBoxConfig  `yaml:"warebox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	PackageDeliveredTopicName string `yaml:"package_delivered_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type WareBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`

	// Роли, которым разрешён выход из терминального статуса. Пустой список —
	// терминальные статусы неизменяемы для всех.
	OverrideRoles []string `yaml:"override_roles"`

	RedeemRateLimitPerMinute int `yaml:"redeem_rate_limit_per_minute"`

	ReconcilerHTTPAddr             string `yaml:"reconciler_http_addr"`
	ReconcilerSweepIntervalSeconds int    `yaml:"reconciler_sweep_interval_seconds"`
	ReconcilerBatchSize            int    `yaml:"reconciler_batch_size"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
