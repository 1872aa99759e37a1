package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/citro80/config"
	coremon "github.com/kilianp07/citro80/core/monitoring"
)

func TestNewSentryMonitorWithoutDSN(t *testing.T) {
	mon, err := NewSentryMonitor(config.SentryConfig{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, mon)
}

func TestNewSentryMonitorInvalidDSN(t *testing.T) {
	_, err := NewSentryMonitor(config.SentryConfig{DSN: "::not a dsn"})
	assert.Error(t, err)
}

func TestNewSentryMonitorCaptures(t *testing.T) {
	mon, err := NewSentryMonitor(config.SentryConfig{DSN: "https://public@sentry.example.com/1", Environment: "test"})
	require.NoError(t, err)
	mon.CaptureException(nil, nil)
	mon.CaptureException(assert.AnError, map[string]string{"job": "kill-charging"})
	mon.Flush(0)
}
