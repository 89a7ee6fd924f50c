// Package loggertest builds loggers whose output can be inspected by tests.
package loggertest

import (
	"github.com/leandrodaf/midimapper/internal/logger"
	"github.com/leandrodaf/midimapper/sdk/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// New returns a debug-level logger and the entries it records.
func New() (contracts.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.NewZapLoggerFrom(zap.New(core)), logs
}

// Warnings returns the recorded entries at warn level with the given message.
func Warnings(logs *observer.ObservedLogs, msg string) []observer.LoggedEntry {
	return logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage(msg).All()
}
