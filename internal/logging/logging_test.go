package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fakhrymubarak/api-template/internal/config"
)

func testConfig(out string) *config.Config {
	return &config.Config{
		ApplicationName: "Api.Template",
		Environment:     "Staging",
		Logging: config.LoggingConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{out},
		},
	}
}

func readEntries(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())
	return entries
}

func TestNew_EnrichesEntries(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.log")
	logger, err := New(testConfig(out))
	require.NoError(t, err)

	logger.Info("hello")
	Flush(logger)

	entries := readEntries(t, out)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "hello", e["msg"])
	assert.Equal(t, float64(os.Getpid()), e["pid"])
	assert.Equal(t, "Staging", e["environment"])
	assert.Equal(t, "Api.Template", e["application"])
	assert.NotEmpty(t, e["process_name"])
	assert.NotZero(t, e["thread_id"])
}

func TestNew_RespectsLevel(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.log")
	cfg := testConfig(out)
	cfg.Logging.Level = "warn"
	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	Flush(logger)

	entries := readEntries(t, out)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
}

func TestNew_InvalidLevel(t *testing.T) {
	cfg := testConfig("stdout")
	cfg.Logging.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestFatalDoesNotExit(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core, Options()...)

	logger.Fatal("Application terminated unexpectedly")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.FatalLevel, logs.All()[0].Level)
}

func TestForRequest_AddsRequestFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core, Options()...)

	l := ForRequest(base, RequestInfo{ClientIP: "10.0.0.1", CorrelationID: "abc", SpanID: "00f067aa0ba902b7"})
	l.Info("handled")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "10.0.0.1", ctx["client_ip"])
	assert.Equal(t, "abc", ctx["correlation_id"])
	assert.Equal(t, "00f067aa0ba902b7", ctx["span_id"])
	assert.Equal(t, "http-request", ctx["thread_name"])
	assert.NotContains(t, ctx, "trace_id")
	assert.Contains(t, ctx, "thread_id")
}

func TestContextRoundTrip(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	ctx := WithContext(context.Background(), logger)
	FromContext(ctx).Info("from context")
	assert.Equal(t, 1, logs.Len())

	assert.NotNil(t, FromContext(context.Background()))
}

func TestConcurrentWrites(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core, Options()...)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent", zap.Int("n", n))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, logs.Len())
}

func TestThreadCoreLeavesCallerFieldsIntact(t *testing.T) {
	inner, logs := observer.New(zapcore.InfoLevel)
	core := threadCore{inner}

	backing := make([]zapcore.Field, 2)
	backing[0] = zap.String("kept", "yes")
	backing[1] = zap.String("spare", "untouched")

	require.NoError(t, core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Message: "m"}, backing[:1]))

	assert.Equal(t, "spare", backing[1].Key)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "yes", fields["kept"])
	assert.Contains(t, fields, "thread_id")
	assert.NotContains(t, fields, "spare")
}

func TestGoroutineID(t *testing.T) {
	main := goroutineID()
	assert.NotZero(t, main)

	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, main, <-other)
}
