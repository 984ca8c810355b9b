package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the chat port when none is given.
	DefaultPort = 5555

	// DefaultMaxLineLength is the assembler capacity. A line may carry
	// one byte less before its terminator.
	DefaultMaxLineLength = 8192

	// DefaultReadChunk is how much is read from a client per wakeup.
	DefaultReadChunk = 4096

	// DefaultBacklog is the listen(2) backlog.
	DefaultBacklog = 10

	// DefaultWelcome is sent to every client on connect.
	DefaultWelcome = "Welcome!\n"

	// DefaultWriteTimeout bounds how long a single client may stall a
	// send before it is dropped.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultLogFormat is the log encoder.
	DefaultLogFormat = LogFormatConsole

	// DefaultDotEnv is the dotenv file read from the working directory.
	DefaultDotEnv = ".env"
)

// Log encoders.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Default returns a Config populated with every default.
func Default() *Config {
	return &Config{
		Port:          DefaultPort,
		MaxLineLength: DefaultMaxLineLength,
		ReadChunk:     DefaultReadChunk,
		Backlog:       DefaultBacklog,
		Welcome:       DefaultWelcome,
		WriteTimeout:  DefaultWriteTimeout,
		LogFormat:     DefaultLogFormat,
	}
}
