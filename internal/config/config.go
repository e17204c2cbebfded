package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvHost = "SDS200_HOST"
	EnvPort = "SDS200_PORT"
)

type Config struct {
	Scanner ScannerConfig `yaml:"scanner"`
	Poller  PollerConfig  `yaml:"poller"`
	Publish PublishConfig `yaml:"publish"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
	Control ControlConfig `yaml:"control"`
}

type ScannerConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Timeout    time.Duration `yaml:"timeout"`
	BufferSize int           `yaml:"buffer_size"`
}

// Addr returns host:port of the scanner.
func (c ScannerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type PublishConfig struct {
	FilePath string      `yaml:"file_path"`
	Redis    RedisConfig `yaml:"redis"`
	MQTT     MQTTConfig  `yaml:"mqtt"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
	Key      string `yaml:"key"`
	History  int64  `yaml:"history"`
}

type MQTTConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Retained bool          `yaml:"retained"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	MetricsPort int  `yaml:"metrics_port"`
}

type ControlConfig struct {
	Listen      string        `yaml:"listen"`
	WebRoot     string        `yaml:"web_root"`
	Command     []string      `yaml:"command"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// LoadConfig reads path and decodes it over the defaults, then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides the scanner endpoint from SDS200_HOST / SDS200_PORT.
func (c *Config) ApplyEnv() error {
	if host := os.Getenv(EnvHost); host != "" {
		c.Scanner.Host = host
	}
	if port := os.Getenv(EnvPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, port, err)
		}
		c.Scanner.Port = p
	}
	return nil
}

// Validate checks the startup parameters that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Scanner.Host == "" {
		errs = append(errs, errors.New("scanner.host required"))
	}
	if c.Scanner.Port <= 0 || c.Scanner.Port > 65535 {
		errs = append(errs, fmt.Errorf("scanner.port out of range: %d", c.Scanner.Port))
	}
	if c.Scanner.Timeout <= 0 {
		errs = append(errs, errors.New("scanner.timeout must be positive"))
	}
	if c.Scanner.BufferSize <= 0 {
		errs = append(errs, errors.New("scanner.buffer_size must be positive"))
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}
	if c.Poller.Cooldown <= 0 {
		errs = append(errs, errors.New("poller.cooldown must be positive"))
	}
	if c.Publish.Redis.Enabled && c.Publish.Redis.Addr == "" {
		errs = append(errs, errors.New("publish.redis.addr required when redis is enabled"))
	}
	if c.Publish.MQTT.Enabled && (c.Publish.MQTT.Broker == "" || c.Publish.MQTT.Topic == "") {
		errs = append(errs, errors.New("publish.mqtt.broker and topic required when mqtt is enabled"))
	}
	if c.Publish.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("publish.mqtt.qos must be 0-2, got %d", c.Publish.MQTT.QoS))
	}
	return errors.Join(errs...)
}

// GetDefaultConfig returns the documented defaults. Host and port are left
// empty: they must be supplied.
func GetDefaultConfig() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Timeout:    5 * time.Second,
			BufferSize: 4096,
		},
		Poller: PollerConfig{
			Interval: 1 * time.Second,
			Cooldown: 5 * time.Second,
		},
		Publish: PublishConfig{
			FilePath: "/tmp/sds200_data.json",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Channel:  "sds200:snapshot",
				Key:      "sds200:latest",
				History:  1000,
			},
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "sds200-poller",
				Topic:    "sds200/snapshot",
				QoS:      0,
				Retained: true,
				Timeout:  5 * time.Second,
			},
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stdout",
			FilePath: "/tmp/sds200_scanner.log",
		},
		Monitor: MonitorConfig{
			Enabled:     false,
			MetricsPort: 9090,
		},
		Control: ControlConfig{
			Listen:      ":8000",
			WebRoot:     "web",
			Command:     []string{"./sds200-poller", "-config", "configs/config.yaml"},
			StopTimeout: 5 * time.Second,
		},
	}
}
