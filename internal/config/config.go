package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel    zapcore.Level
	WienerNetze WienerNetzeConfig `mapstructure:"wienernetze"`
	Poll        PollConfig        `mapstructure:"poll"`
	Store       StoreConfig       `mapstructure:"store"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Port        uint              `mapstructure:"port"`
	HttpLog     bool              `mapstructure:"http_log"`
}

type WienerNetzeConfig struct {
	ClientId           string   `mapstructure:"client_id"`
	ClientSecret       string   `mapstructure:"client_secret"`
	ApiKey             string   `mapstructure:"api_key"`
	BaseUrl            string   `mapstructure:"base_url"`
	TokenUrl           string   `mapstructure:"token_url"`
	TimeoutSeconds     uint     `mapstructure:"timeout_seconds"`
	RateLimitPerSecond float64  `mapstructure:"rate_limit_per_second"`
	MeterPoints        []string `mapstructure:"meter_points"`
}

type PollConfig struct {
	IntervalMinutes uint `mapstructure:"interval_minutes"`
}

type StoreConfig struct {
	Path      string `mapstructure:"path"`
	CacheSize int    `mapstructure:"cache_size"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func (c WienerNetzeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.WienerNetze.ClientId == "" {
		errs = append(errs, errors.New("config param wienernetze.client_id is required"))
	}
	if c.WienerNetze.ClientSecret == "" {
		errs = append(errs, errors.New("config param wienernetze.client_secret is required"))
	}
	if c.WienerNetze.ApiKey == "" {
		errs = append(errs, errors.New("config param wienernetze.api_key is required"))
	}
	if c.Poll.IntervalMinutes < 1 {
		errs = append(errs, errors.New("config param poll.interval_minutes should be >= 1"))
	}
	if c.WienerNetze.RateLimitPerSecond < 0 {
		errs = append(errs, errors.New("config param wienernetze.rate_limit_per_second should be >= 0"))
	}
	return errors.Join(errs...)
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// ParseLogLevel maps the log_level setting, unknown values fall back to info.
func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
