package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("reconcile", &buf, WARN)

	logger.Info("не должно попасть")
	logger.Warn("контейнер %d занят", 7)

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[WARN] [reconcile] контейнер 7 занят")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, INFO, ParseLevel("???"))
}

func TestNilAndDefaultLoggerAreSafe(t *testing.T) {
	var logger *Logger
	logger.Info("nil logger")

	CloseDefaultLogger()
	Info("без логгера процесса")
}

func TestManagerCreatesComponentLoggers(t *testing.T) {
	SetLogDir(t.TempDir())
	lm := &LoggerManager{loggers: make(map[string]*Logger), level: INFO}

	a, err := lm.GetLogger("dispatch")
	require.NoError(t, err)
	b, err := lm.GetLogger("dispatch")
	require.NoError(t, err)
	assert.Same(t, a, b)

	require.NoError(t, lm.SetLogLevel("dispatch", ERROR, DEBUG))
	assert.Error(t, lm.SetLogLevel("missing", ERROR, DEBUG))
	assert.Equal(t, []string{"dispatch"}, lm.ListComponents())
	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}
