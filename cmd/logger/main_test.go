package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"serial-logger/internal/config"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		level     logrus.Level
		formatter logrus.Formatter
	}{
		{
			name:      "json debug",
			cfg:       config.LogConfig{Level: "debug", Format: "json"},
			level:     logrus.DebugLevel,
			formatter: &logrus.JSONFormatter{},
		},
		{
			name:      "text with bad level",
			cfg:       config.LogConfig{Level: "loud", Format: "text"},
			level:     logrus.InfoLevel,
			formatter: &logrus.TextFormatter{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := setupLogger(tt.cfg)
			assert.Equal(t, tt.level, log.GetLevel())
			assert.IsType(t, tt.formatter, log.Formatter)
		})
	}
}

func TestSetupLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logger.log")
	log := setupLogger(config.LogConfig{Level: "info", Format: "json", Output: "file", FilePath: path})

	log.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
