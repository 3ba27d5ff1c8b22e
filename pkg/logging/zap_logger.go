package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct {
	sugar   *zap.SugaredLogger
	rotator *SequentialRotator
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a logger that writes to stdout and to a daily file under
// <LogDir>/logs/<process>/. Development mode logs debug and above with a console
// encoder, production logs info and above as JSON.
func NewZapLogger(config LoggerConfig) (Logger, error) {
	config = config.withDefaults()

	logDir := filepath.Join(config.LogDir, LogsDir, string(config.ProcessName))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(logDir, time.Now().UTC().Format(LogFileFormat))
	rotator := NewSequentialRotator(logPath, config.MaxSizeMB, config.MaxAgeDays, config.MaxBackups, false)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(TimeFormat)
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zapcore.InfoLevel
	var consoleEncoder zapcore.Encoder
	if config.IsDevelopment {
		level = zapcore.DebugLevel
		devConfig := encoderConfig
		devConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(devConfig)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("process", string(config.ProcessName)))

	return &ZapLogger{sugar: logger.Sugar(), rotator: rotator}, nil
}

// NewZapLoggerByConfig wraps a logger built from a raw zap config, with no file sink.
func NewZapLoggerByConfig(config zap.Config, options ...zap.Option) (Logger, error) {
	logger, err := config.Build(options...)
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: logger.Sugar()}, nil
}

func (z *ZapLogger) Debug(msg string, tags ...interface{}) { z.sugar.Debugw(msg, tags...) }
func (z *ZapLogger) Info(msg string, tags ...interface{})  { z.sugar.Infow(msg, tags...) }
func (z *ZapLogger) Warn(msg string, tags ...interface{})  { z.sugar.Warnw(msg, tags...) }
func (z *ZapLogger) Error(msg string, tags ...interface{}) { z.sugar.Errorw(msg, tags...) }
func (z *ZapLogger) Fatal(msg string, tags ...interface{}) { z.sugar.Fatalw(msg, tags...) }

func (z *ZapLogger) Debugf(template string, args ...interface{}) { z.sugar.Debugf(template, args...) }
func (z *ZapLogger) Infof(template string, args ...interface{})  { z.sugar.Infof(template, args...) }
func (z *ZapLogger) Warnf(template string, args ...interface{})  { z.sugar.Warnf(template, args...) }
func (z *ZapLogger) Errorf(template string, args ...interface{}) { z.sugar.Errorf(template, args...) }
func (z *ZapLogger) Fatalf(template string, args ...interface{}) { z.sugar.Fatalf(template, args...) }

func (z *ZapLogger) With(tags ...interface{}) Logger {
	return &ZapLogger{sugar: z.sugar.With(tags...), rotator: z.rotator}
}

// Sync flushes buffered entries and closes the file sink.
func (z *ZapLogger) Sync() error {
	// stdout sync errors are expected on some platforms
	_ = z.sugar.Sync()
	if z.rotator != nil {
		return z.rotator.Close()
	}
	return nil
}

// Shutdown flushes the logger if it is backed by zap.
func Shutdown(logger Logger) {
	if zl, ok := logger.(*ZapLogger); ok && zl != nil {
		_ = zl.Sync()
	}
}
