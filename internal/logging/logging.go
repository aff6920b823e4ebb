// Package logging builds the process logger and carries request loggers
// through a context.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fakhrymubarak/api-template/internal/config"
)

type ctxKey struct{}

type requestInfoKey struct{}

// New builds the process-wide logger from configuration. The returned logger
// stamps every entry with process and environment metadata and the id of
// the emitting goroutine.
func New(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Logging.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	if cfg.Logging.Encoding != "" {
		zc.Encoding = cfg.Logging.Encoding
	}
	if len(cfg.Logging.OutputPaths) > 0 {
		zc.OutputPaths = cfg.Logging.OutputPaths
	}
	zc.InitialFields = processFields(cfg)

	logger, err := zc.Build(Options()...)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// Options are the zap options every logger in the process is built with.
// Tests use them to get the same enrichment on an observer core.
func Options() []zap.Option {
	return []zap.Option{
		zap.WrapCore(func(c zapcore.Core) zapcore.Core { return threadCore{c} }),
		zap.WithFatalHook(returnOnFatal{}),
	}
}

func processFields(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"pid":          os.Getpid(),
		"process_name": filepath.Base(os.Args[0]),
		"environment":  cfg.Environment,
		"application":  cfg.ApplicationName,
	}
}

// Flush writes out any buffered entries. Sync errors on terminals and pipes
// are expected and ignored.
func Flush(logger *zap.Logger) {
	if logger != nil {
		_ = logger.Sync()
	}
}

// WithContext returns a copy of ctx carrying logger.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}

// RequestInfo is the per-request enrichment.
type RequestInfo struct {
	ClientIP      string
	CorrelationID string
	TraceID       string
	SpanID        string
}

// WithRequestInfo returns a copy of ctx carrying info.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the enrichment stored by WithRequestInfo.
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

// ForRequest derives a request-scoped logger from the process logger.
func ForRequest(base *zap.Logger, info RequestInfo) *zap.Logger {
	fields := []zap.Field{
		zap.String("thread_name", "http-request"),
		zap.String("client_ip", info.ClientIP),
		zap.String("correlation_id", info.CorrelationID),
	}
	if info.TraceID != "" {
		fields = append(fields, zap.String("trace_id", info.TraceID))
	}
	if info.SpanID != "" {
		fields = append(fields, zap.String("span_id", info.SpanID))
	}
	return base.With(fields...)
}

// threadCore adds the goroutine id of the caller to each written entry.
type threadCore struct {
	zapcore.Core
}

func (c threadCore) With(fields []zapcore.Field) zapcore.Core {
	return threadCore{c.Core.With(fields)}
}

func (c threadCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write never appends into the caller's backing array.
func (c threadCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	fields = append(fields[:len(fields):len(fields)], zap.Uint64("thread_id", goroutineID()))
	return c.Core.Write(ent, fields)
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the header line of the current goroutine's stack.
// Go exposes no thread identity, so the goroutine stands in for it.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// returnOnFatal writes fatal entries without exiting; the entry point owns
// the exit code.
type returnOnFatal struct{}

func (returnOnFatal) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}
