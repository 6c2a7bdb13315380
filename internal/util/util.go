package util

import (
	"github.com/berfenger/wienernetze2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		WienerNetze: config.WienerNetzeConfig{
			ClientId:           "test-client",
			ClientSecret:       "test-secret",
			ApiKey:             "test-api-key",
			TimeoutSeconds:     5,
			RateLimitPerSecond: 0,
		},
		Poll: config.PollConfig{
			IntervalMinutes: 15,
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "wienernetze",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Port: 8080,
	}
}
