package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap/zapcore"
)

func TestLoggerCarriesServiceName(t *testing.T) {
	require.NoError(t, InitLogger("development"))

	ce := GetLogger().Check(zapcore.InfoLevel, "startup")
	require.NotNil(t, ce)
	assert.Equal(t, "unlock-service", ce.LoggerName)
	ce.Write()
}

func TestGetLoggerBeforeInit(t *testing.T) {
	logger = nil

	ce := GetLogger().Check(zapcore.InfoLevel, "startup")
	require.NotNil(t, ce)
	assert.Equal(t, "unlock-service", ce.LoggerName)
	ce.Write()
}
