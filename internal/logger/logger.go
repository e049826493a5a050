package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"tg-postplanner/internal/config"
)

const logPrefix = "postplanner"

// std is usable before Setup so packages and tests can log without a config.
var std = newLogger(os.Stdout)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// createLogFilePath generates a log file path with the current date
func createLogFilePath(logDir, prefix string) string {
	currentDate := time.Now().Format("2006-01-02")
	return filepath.Join(logDir, fmt.Sprintf("%s-%s.log", prefix, currentDate))
}

// createRotatingLogger creates a lumberjack rotating logger
func createRotatingLogger(logFilePath string, cfg *config.Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.Logger.Rotation.MaxSize,
		MaxBackups: cfg.Logger.Rotation.MaxBackups,
		MaxAge:     cfg.Logger.Rotation.MaxAge,
		Compress:   cfg.Logger.Rotation.Compress,
	}
}

// createMultiWriter creates a writer that outputs to both stdout and log file
func createMultiWriter(rotatingLogger io.Writer) io.Writer {
	return io.MultiWriter(os.Stdout, rotatingLogger)
}

// ParseLevel maps the configured level names onto logrus levels.
// WARNING is accepted alongside logrus' own spelling.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return logrus.DebugLevel, nil
	case "", "INFO":
		return logrus.InfoLevel, nil
	case "WARN", "WARNING":
		return logrus.WarnLevel, nil
	case "ERROR":
		return logrus.ErrorLevel, nil
	case "FATAL":
		return logrus.FatalLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

func newFormatter(cfg *config.Config) logrus.Formatter {
	if strings.EqualFold(cfg.Logger.Format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: cfg.Logger.TimeFormat}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: cfg.Logger.TimeFormat,
	}
}

// Setup configures logging to output to both stdout and a rotating log file
func Setup(cfg *config.Config) error {
	logDir := cfg.Logger.Directory

	// Create log directory if it doesn't exist
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	level, err := ParseLevel(cfg.Logger.Level)
	if err != nil {
		return err
	}

	logFilePath := createLogFilePath(logDir, logPrefix)
	rotatingLogger := createRotatingLogger(logFilePath, cfg)
	multiWriter := createMultiWriter(rotatingLogger)

	std.SetOutput(multiWriter)
	std.SetLevel(level)
	std.SetFormatter(newFormatter(cfg))

	// third-party code logging through the standard logger lands in the same files
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	std.Infof("Logging initialized: writing to %s", logFilePath)
	return nil
}

// Logger exposes the underlying logrus instance for components that need fields.
func Logger() *logrus.Logger {
	return std
}

// WithField starts a structured entry.
func WithField(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}

// WithFields starts a structured entry with several fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func Debugf(format string, args ...interface{})   { std.Debugf(format, args...) }
func Infof(format string, args ...interface{})    { std.Infof(format, args...) }
func Warningf(format string, args ...interface{}) { std.Warnf(format, args...) }
func Errorf(format string, args ...interface{})   { std.Errorf(format, args...) }
func Fatalf(format string, args ...interface{})   { std.Fatalf(format, args...) }

func Debug(args ...interface{})   { std.Debug(args...) }
func Info(args ...interface{})    { std.Info(args...) }
func Warning(args ...interface{}) { std.Warn(args...) }
func Error(args ...interface{})   { std.Error(args...) }
func Fatal(args ...interface{})   { std.Fatal(args...) }
