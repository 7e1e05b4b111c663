package memengine

import "github.com/btcsuite/btclog"

// Subsystem is the logging tag of the in-memory engine.
const Subsystem = "MENG"

// log is disabled until the caller provides a logger with UseLogger.
var log btclog.Logger

func init() {
	UseLogger(btclog.Disabled)
}

// DisableLog disables all package log output.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger sets the logger used by the engine.
func UseLogger(logger btclog.Logger) {
	log = logger
}
