package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Init replaces the package logger. Until it is called everything goes to a
// no-op logger, which keeps tests quiet.
func Init(debug bool) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		l = zap.NewExample()
	}

	Set(l)
}

// Set installs l as the package logger.
func Set(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func L() *zap.Logger {
	return get()
}

func With(fields ...zap.Field) *zap.Logger {
	return get().With(fields...)
}

func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	get().Fatal(msg, fields...)
}

func Sync() {
	_ = get().Sync()
}
