package log

import (
	"os"
	"path/filepath"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = &ZapLogger{}

// ZapLogger is the production Logger backed by zap.
type ZapLogger struct {
	lg            *zap.SugaredLogger
	keysAndValues []any
}

// Config selects encoding, level and destination of a ZapLogger.
type Config struct {
	Format string `env:"BYRO_LOG_FORMAT" env-default:"console"` // console, logfmt or json
	Level  Level  `env:"BYRO_LOG_LEVEL" env-default:"info"`
	Output string `env:"BYRO_LOG_OUTPUT" env-default:"stderr"` // stderr, stdout or a file path
}

// NewZapLogger builds a logger from conf. Extra write syncers receive a copy
// of every entry, which is how tests capture output.
func NewZapLogger(conf Config, extraWriters ...zapcore.WriteSyncer) Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339))
	}

	var encoder zapcore.Encoder
	switch conf.Format {
	case "logfmt":
		encoder = zaplogfmt.NewEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sinks := append(extraWriters, outputSyncer(conf.Output))
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zapLevel(conf.Level))

	// Skip ZapLogger.<Level> and ZapLogger.log.
	return &ZapLogger{lg: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()}
}

func outputSyncer(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return zapcore.Lock(os.Stderr)
	}
	file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(file)
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) { l.log(LevelDebug, msg, keysAndValues...) }
func (l *ZapLogger) Info(msg string, keysAndValues ...any)  { l.log(LevelInfo, msg, keysAndValues...) }
func (l *ZapLogger) Warn(msg string, keysAndValues ...any)  { l.log(LevelWarn, msg, keysAndValues...) }
func (l *ZapLogger) Error(msg string, keysAndValues ...any) { l.log(LevelError, msg, keysAndValues...) }
func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) { l.log(LevelFatal, msg, keysAndValues...) }

func (l *ZapLogger) log(level Level, msg string, keysAndValues ...any) {
	l.lg.Logw(zapLevel(level), msg, keysAndValues...)
}

func (l *ZapLogger) WithKV(key string, value any) Logger {
	kv := make([]any, 0, len(l.keysAndValues)+2)
	kv = append(kv, l.keysAndValues...)
	return &ZapLogger{
		lg:            l.lg.With(key, value),
		keysAndValues: append(kv, key, value),
	}
}

func (l *ZapLogger) GetAllKV() []any {
	return l.keysAndValues
}

func (l *ZapLogger) WithName(name string) Logger {
	return &ZapLogger{lg: l.lg.Named(name), keysAndValues: l.keysAndValues}
}

func (l *ZapLogger) Name() string {
	return l.lg.Desugar().Name()
}

func (l *ZapLogger) AddCallerSkip(skip int) Logger {
	return &ZapLogger{lg: l.lg.WithOptions(zap.AddCallerSkip(skip)), keysAndValues: l.keysAndValues}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
