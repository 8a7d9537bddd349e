package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestLogrusLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)

	logger.With(F("component", "ledger")).Info("order created", F("order_id", "ord-1"), F("err", errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "order created", entry["msg"])
	require.Equal(t, "ledger", entry["component"])
	require.Equal(t, "ord-1", entry["order_id"])
	require.Equal(t, "boom", entry["err"])
}

func TestLogrusLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("visible")
	require.False(t, strings.Contains(buf.String(), "hidden"))
	require.True(t, strings.Contains(buf.String(), "visible"))
}

func TestNewLoggerRejectsUnknownSettings(t *testing.T) {
	_, err := NewLogger(nil, "loud", "text")
	require.Error(t, err)
	_, err = NewLogger(nil, "info", "xml")
	require.Error(t, err)
}

func TestSetLoggerNilFallsBackToNoop(t *testing.T) {
	SetLogger(nil)
	require.NotNil(t, Log())
	Log().Error("ignored")
}
