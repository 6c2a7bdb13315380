package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func validConfig() Config {
	return Config{
		WienerNetze: WienerNetzeConfig{
			ClientId:       "client",
			ClientSecret:   "secret",
			ApiKey:         "key",
			TimeoutSeconds: 30,
		},
		Poll: PollConfig{IntervalMinutes: 15},
	}
}

func TestValidate(t *testing.T) {
	assert := assert.New(t)

	cfg := validConfig()
	assert.NoError(cfg.Validate())
	assert.Equal(15*time.Minute, cfg.Poll.Interval())
	assert.Equal(30*time.Second, cfg.WienerNetze.Timeout())

	cfg.WienerNetze.ApiKey = ""
	cfg.Poll.IntervalMinutes = 0
	err := cfg.Validate()
	assert.ErrorContains(err, "wienernetze.api_key")
	assert.ErrorContains(err, "poll.interval_minutes")
}

func TestCheckMQTTTopic(t *testing.T) {
	assert := assert.New(t)

	topic, err := CheckMQTTTopic("WienerNetze")
	assert.NoError(err)
	assert.Equal("wienernetze", topic)

	_, err = CheckMQTTTopic("wiener/netze")
	assert.Error(err)
	_, err = CheckMQTTTopic("")
	assert.Error(err)
}

func TestParseLogLevel(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(zapcore.DebugLevel, ParseLogLevel("trace"))
	assert.Equal(zapcore.WarnLevel, ParseLogLevel("WARN"))
	assert.Equal(zapcore.InfoLevel, ParseLogLevel("verbose"))
}
