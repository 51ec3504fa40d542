package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Malformed line policies
const (
	PolicyFail = "fail"
	PolicySkip = "skip"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	History HistoryConfig `yaml:"history"`
	Parser  ParserConfig  `yaml:"parser"`
	Redis   RedisConfig   `yaml:"redis"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
}

type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	DataBits    int           `yaml:"data_bits"`
	Parity      string        `yaml:"parity"`
	StopBits    int           `yaml:"stop_bits"`
	MaxLineSize int           `yaml:"max_line_size"`
}

type HistoryConfig struct {
	Path            string `yaml:"path"`
	RootElement     string `yaml:"root_element"`
	CreateIfMissing bool   `yaml:"create_if_missing"`
}

type ParserConfig struct {
	OnMalformed string `yaml:"on_malformed"`
}

type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	Channel      string `yaml:"channel"`
	HistoryLimit int64  `yaml:"history_limit"`
}

type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
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

// LoadConfig reads path and overlays it on the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// GetDefaultConfig returns the settings the logger was first deployed with.
func GetDefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "COM6",
			Baud:        9600,
			ReadTimeout: time.Second,
			DataBits:    8,
			Parity:      "N",
			StopBits:    1,
			MaxLineSize: 4096,
		},
		History: HistoryConfig{
			Path:        "history.xml",
			RootElement: "HISTORY",
		},
		Parser: ParserConfig{
			OnMalformed: PolicyFail,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     4,
			Channel:      "serial_events",
			HistoryLimit: 1000,
		},
		MQTT: MQTTConfig{
			Enabled:        false,
			Broker:         "tcp://localhost:1883",
			ClientID:       "serial-logger",
			Topic:          "serial/events",
			QoS:            0,
			PublishTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled:     false,
			MetricsPort: 9090,
		},
	}
}

// Validate rejects settings the logger cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Port == "" {
		errs = append(errs, errors.New("serial.port is required"))
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	// A zero timeout blocks reads forever and the run loop never sees shutdown.
	if c.Serial.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("serial.read_timeout must be positive, got %s", c.Serial.ReadTimeout))
	}
	switch c.Serial.Parity {
	case "", "N", "E", "O", "M", "S":
	default:
		errs = append(errs, fmt.Errorf("serial.parity must be one of N, E, O, M, S, got %q", c.Serial.Parity))
	}
	switch c.Serial.StopBits {
	case 0, 1, 2:
	default:
		errs = append(errs, fmt.Errorf("serial.stop_bits must be 1 or 2, got %d", c.Serial.StopBits))
	}
	if c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required"))
	}
	if c.History.CreateIfMissing && c.History.RootElement == "" {
		errs = append(errs, errors.New("history.root_element is required with create_if_missing"))
	}
	switch c.Parser.OnMalformed {
	case PolicyFail, PolicySkip:
	default:
		errs = append(errs, fmt.Errorf("parser.on_malformed must be %q or %q, got %q", PolicyFail, PolicySkip, c.Parser.OnMalformed))
	}
	if c.MQTT.Enabled && c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
