package logger

import (
	"context"
	"os"
	"path/filepath"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceIdKey is the context key carrying the id of the command that started a chain of work.
const TraceIdKey = "trace_id"

type fieldsKey struct{}

// Log is the process logger. It is a no-op until Init is called so that
// packages can log from tests without setup.
var Log = zap.NewNop()

var level = zap.NewAtomicLevel()

// Init configures Log for serviceName at the given level (debug, info, warn, error).
func Init(serviceName string, lvl string) {
	InitWithFile(serviceName, lvl, "")
}

// InitWithFile is Init with an explicit log file; an empty path means logs/{serviceName}.log.
func InitWithFile(serviceName string, lvl string, logFile string) {
	SetLevel(lvl)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	writeSyncers := []zapcore.WriteSyncer{
		zapcore.AddSync(os.Stdout),
	}

	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}
	// a missing log directory degrades to stdout only
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			writeSyncers = append(writeSyncers, zapcore.AddSync(file))
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		level,
	)

	// skip 1 so caller points at the call site, not this file
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

// SetLevel changes the level of the running logger. Unknown names mean info.
func SetLevel(lvl string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		l = zap.InfoLevel
	}
	level.SetLevel(l)
}

// WithFields returns a context whose log lines will carry fields in addition
// to any fields already attached to ctx.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	prev, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	merged := make([]zap.Field, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Info(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Error(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Warn(msg, fields...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Debug(msg, fields...)
}

// Fatal logs and exits the process.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Fatal(msg, fields...)
}

// extractTrace appends the trace id and any WithFields values held by ctx.
func extractTrace(ctx context.Context, fields *[]zap.Field) {
	if ctx == nil {
		return
	}
	if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		*fields = append(*fields, zap.String(TraceIdKey, traceID))
	} else if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		*fields = append(*fields, zap.String(TraceIdKey, sc.TraceID().String()))
	}
	if extra, ok := ctx.Value(fieldsKey{}).([]zap.Field); ok {
		*fields = append(*fields, extra...)
	}
}

// Sync flushes buffered entries; defer it from main.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
