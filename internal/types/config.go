package types

type RunMode string

const (
	// ModeLocal runs the API server with local development defaults.
	ModeLocal RunMode = "local"
	// ModeAPI runs just the API server.
	ModeAPI RunMode = "api"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
)
