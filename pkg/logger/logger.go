package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05"

var (
	mu      sync.RWMutex
	log     *zerolog.Logger
	logFile *os.File
)

// InitLogger sends logs to stdout and to filename (when not empty).
// Development environments get a human readable console writer, everything
// else emits JSON lines.
func InitLogger(filename, level, env string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	var console io.Writer = os.Stdout
	if strings.EqualFold(env, "development") || strings.EqualFold(env, "dev") {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
	}

	writers := []io.Writer{console}
	if filename != "" {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		mu.Lock()
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		mu.Unlock()
		writers = append(writers, f)
	}

	Set(zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger().Level(lvl))
	return nil
}

// Set replaces the package logger. Tests use it to capture output.
func Set(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = &l
}

// L returns the package logger for structured events.
func L() *zerolog.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Init installs a console logger at info level if none is set.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if log != nil {
		return
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
	log = &l
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func parseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(level))
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

func Debugf(format string, v ...interface{}) {
	L().Debug().Msgf(format, v...)
}

func Info(format string, v ...interface{}) {
	L().Info().Msgf(format, v...)
}

func Infof(format string, v ...interface{}) {
	Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	L().Warn().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	L().Error().Msgf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	Error(format, v...)
}
